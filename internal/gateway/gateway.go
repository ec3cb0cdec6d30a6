// Package gateway validates collaboration events submitted over the
// request/response API and applies them to their rooms. It never writes to
// streams; delivery is driven by the room's own emission.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensandbox/codespace/internal/collab"
	"github.com/opensandbox/codespace/internal/metrics"
)

// Type names a submitted event.
type Type string

const (
	TypeJoinRoom     Type = "join_room"
	TypeLeaveRoom    Type = "leave_room"
	TypeCursorUpdate Type = "cursor_update"
	TypeCodeUpdate   Type = "code_update"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrInvalidData = errors.New("invalid event data")
	// ErrNotAMember is returned for cursor or content updates from a
	// participant without an open stream in the room.
	ErrNotAMember = collab.ErrNotAMember
)

// Submission is one submitted event.
type Submission struct {
	Type   Type            `json:"type"`
	RoomID string          `json:"roomId"`
	Data   json.RawMessage `json:"data"`
}

type presenceData struct {
	ParticipantID string `json:"participantId"`
}

type cursorData struct {
	ParticipantID string `json:"participantId"`
	File          string `json:"file"`
	Line          *int   `json:"line"`
	Column        *int   `json:"column"`
}

type codeData struct {
	ParticipantID string  `json:"participantId"`
	File          string  `json:"file"`
	Patch         *string `json:"patch"`
}

// Ack reports the room sequence number after an accepted submission.
type Ack struct {
	Seq uint64
}

// Gateway applies submissions to rooms in a registry.
type Gateway struct {
	registry *collab.Registry
}

// New creates a Gateway over the given registry.
func New(registry *collab.Registry) *Gateway {
	return &Gateway{registry: registry}
}

// Submit validates s and applies it to its room. Caller errors wrap
// ErrUnknownType or ErrInvalidData; membership violations wrap ErrNotAMember.
// Rejected submissions never mutate a room.
func (g *Gateway) Submit(s Submission) (*Ack, error) {
	ack, err := g.submit(s)
	result := "accepted"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotAMember):
		result = "not_a_member"
	default:
		result = "invalid"
	}
	metrics.RoomEventsTotal.WithLabelValues(s.Type.label(), result).Inc()
	return ack, err
}

// label bounds the metric label to the known types.
func (t Type) label() string {
	switch t {
	case TypeJoinRoom, TypeLeaveRoom, TypeCursorUpdate, TypeCodeUpdate:
		return string(t)
	}
	return "unknown"
}

func (g *Gateway) submit(s Submission) (*Ack, error) {
	if s.RoomID == "" {
		return nil, fmt.Errorf("%w: roomId is required", ErrInvalidData)
	}

	switch s.Type {
	case TypeJoinRoom:
		var d presenceData
		if err := decode(s.Data, &d); err != nil {
			return nil, err
		}
		if d.ParticipantID == "" {
			return nil, fmt.Errorf("%w: participantId is required", ErrInvalidData)
		}
		_, seq, err := g.registry.Join(s.RoomID, d.ParticipantID)
		if err != nil {
			return nil, err
		}
		return &Ack{Seq: seq}, nil

	case TypeLeaveRoom:
		var d presenceData
		if err := decode(s.Data, &d); err != nil {
			return nil, err
		}
		if d.ParticipantID == "" {
			return nil, fmt.Errorf("%w: participantId is required", ErrInvalidData)
		}
		room, ok := g.registry.Get(s.RoomID)
		if !ok {
			return &Ack{}, nil
		}
		seq, err := room.Leave(d.ParticipantID)
		if err != nil {
			return nil, err
		}
		return &Ack{Seq: seq}, nil

	case TypeCursorUpdate:
		var d cursorData
		if err := decode(s.Data, &d); err != nil {
			return nil, err
		}
		if d.ParticipantID == "" || d.File == "" || d.Line == nil || d.Column == nil {
			return nil, fmt.Errorf("%w: participantId, file, line and column are required", ErrInvalidData)
		}
		if *d.Line < 0 || *d.Column < 0 {
			return nil, fmt.Errorf("%w: line and column must not be negative", ErrInvalidData)
		}
		room, err := g.connectedRoom(s.RoomID, d.ParticipantID)
		if err != nil {
			return nil, err
		}
		seq, err := room.ApplyCursor(d.ParticipantID, collab.CursorPosition{
			File:   d.File,
			Line:   *d.Line,
			Column: *d.Column,
		})
		if err != nil {
			return nil, err
		}
		return &Ack{Seq: seq}, nil

	case TypeCodeUpdate:
		var d codeData
		if err := decode(s.Data, &d); err != nil {
			return nil, err
		}
		if d.ParticipantID == "" || d.File == "" || d.Patch == nil {
			return nil, fmt.Errorf("%w: participantId, file and patch are required", ErrInvalidData)
		}
		room, err := g.connectedRoom(s.RoomID, d.ParticipantID)
		if err != nil {
			return nil, err
		}
		seq, err := room.ApplyContent(d.ParticipantID, d.File, *d.Patch)
		if err != nil {
			return nil, err
		}
		return &Ack{Seq: seq}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}
}

// connectedRoom returns the room only if the participant has an open stream
// in it, so no state changes without someone subscribed to observe them.
func (g *Gateway) connectedRoom(roomID, participantID string) (*collab.Room, error) {
	room, ok := g.registry.Get(roomID)
	if !ok || !room.Connected(participantID) {
		return nil, fmt.Errorf("%w: %s in room %s", ErrNotAMember, participantID, roomID)
	}
	return room, nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: data is required", ErrInvalidData)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}
