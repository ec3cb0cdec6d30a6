package collab

import (
	"fmt"
	"time"
)

// Kind tags a session event.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindJoined
	KindLeft
	KindCursorMoved
	KindContentChanged
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindJoined:
		return "participant_joined"
	case KindLeft:
		return "participant_left"
	case KindCursorMoved:
		return "cursor_moved"
	case KindContentChanged:
		return "content_changed"
	case KindPing:
		return "ping"
	default:
		return "unknown"
	}
}

// CursorPosition is a participant's caret location in a workspace file.
type CursorPosition struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Event is one entry in a room's event sequence. Exactly one of Cursor or
// Content is set, depending on Kind. Ping events carry neither a room, a
// participant nor a sequence number.
type Event struct {
	Kind          Kind
	RoomID        string
	Seq           uint64
	ParticipantID string
	Cursor        *CursorPosition
	Content       *ContentPatch
	At            time.Time
}

// ContentPatch is a document delta relayed verbatim between participants.
// Rooms do not merge or order concurrent patches to the same region; that
// is left to the editors.
type ContentPatch struct {
	File  string `json:"file"`
	Patch string `json:"patch"`
}

// Ping returns a keep-alive event.
func Ping(at time.Time) Event {
	return Event{Kind: KindPing, At: at}
}

// Frame is the JSON wire form of an Event, shared by every stream transport.
type Frame struct {
	Type          string `json:"type"`
	Timestamp     string `json:"timestamp"`
	RoomID        string `json:"roomId,omitempty"`
	Seq           uint64 `json:"seq,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	File          string `json:"file,omitempty"`
	Line          *int   `json:"line,omitempty"`
	Column        *int   `json:"column,omitempty"`
	Patch         string `json:"patch,omitempty"`
}

// Frame converts e to its wire form.
func (e Event) Frame() (Frame, error) {
	f := Frame{
		Type:      e.Kind.String(),
		Timestamp: e.At.UTC().Format(time.RFC3339Nano),
	}
	switch e.Kind {
	case KindPing:
		return f, nil
	case KindJoined, KindLeft:
	case KindCursorMoved:
		if e.Cursor == nil {
			return Frame{}, fmt.Errorf("cursor event %d in room %s has no position", e.Seq, e.RoomID)
		}
		line, column := e.Cursor.Line, e.Cursor.Column
		f.File = e.Cursor.File
		f.Line = &line
		f.Column = &column
	case KindContentChanged:
		if e.Content == nil {
			return Frame{}, fmt.Errorf("content event %d in room %s has no patch", e.Seq, e.RoomID)
		}
		f.File = e.Content.File
		f.Patch = e.Content.Patch
	default:
		return Frame{}, fmt.Errorf("unknown event kind %d", e.Kind)
	}
	f.RoomID = e.RoomID
	f.Seq = e.Seq
	f.ParticipantID = e.ParticipantID
	return f, nil
}
