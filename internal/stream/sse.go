package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/opensandbox/codespace/internal/collab"
)

var errFlushUnsupported = errors.New("response writer does not support flushing")

// SSESink writes frames as Server-Sent Events. Sequenced frames carry their
// seq as the event id so EventSource clients can detect gaps.
type SSESink struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewSSESink wraps w, which must support http.Flusher.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errFlushUnsupported
	}
	return &SSESink{w: w, f: f}, nil
}

// WriteHeaders commits the event-stream response.
func (s *SSESink) WriteHeaders() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.f.Flush()
}

func (s *SSESink) Send(f collab.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if f.Seq > 0 {
		if _, err := fmt.Fprintf(s.w, "id: %d\n", f.Seq); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *SSESink) Transport() string { return "sse" }
