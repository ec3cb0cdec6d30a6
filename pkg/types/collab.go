package types

import "encoding/json"

// EventSubmission is the request body for submitting a collaboration event.
type EventSubmission struct {
	Type   string          `json:"type"` // join_room, leave_room, cursor_update, code_update
	RoomID string          `json:"roomId"`
	Data   json.RawMessage `json:"data"`
}

// EventAck is returned for an accepted submission.
type EventAck struct {
	Success bool   `json:"success"`
	Seq     uint64 `json:"seq"`
}

// StreamFrame is one frame pushed to a collaboration stream. Ping frames
// carry only Type and Timestamp.
type StreamFrame struct {
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

// CursorPosition is a participant's cursor within a file.
type CursorPosition struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// RoomInfo is a point-in-time view of a live room.
type RoomInfo struct {
	RoomID       string                    `json:"roomId"`
	Participants []string                  `json:"participants"`
	Cursors      map[string]CursorPosition `json:"cursors"`
	LastEventSeq uint64                    `json:"lastEventSeq"`
	Subscribers  int                       `json:"subscribers"`
}
