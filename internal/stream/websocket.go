package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opensandbox/codespace/internal/collab"
)

const writeDeadline = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin checks belong to the authenticating proxy
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketSink writes frames as JSON text messages. Only the Serve
// goroutine writes; the read pump only watches for the peer going away.
type WebSocketSink struct {
	conn *websocket.Conn
}

// UpgradeWebSocket upgrades the request and starts a read pump. The returned
// context is cancelled when the peer closes the socket or a read fails.
func UpgradeWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) (*WebSocketSink, context.Context, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		for {
			// Clients have nothing to say on this socket; events are
			// submitted over the request/response API.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return &WebSocketSink{conn: conn}, ctx, nil
}

func (s *WebSocketSink) Send(f collab.Frame) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteJSON(f)
}

func (s *WebSocketSink) Transport() string { return "websocket" }

// Close sends a normal closure and closes the socket.
func (s *WebSocketSink) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
