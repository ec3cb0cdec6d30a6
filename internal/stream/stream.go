// Package stream delivers a room's events to connected clients over
// long-lived server-push connections.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensandbox/codespace/internal/collab"
	"github.com/opensandbox/codespace/internal/metrics"
)

// DefaultPingInterval keeps idle connections alive through proxies and load
// balancers that reclaim silent sockets.
const DefaultPingInterval = 30 * time.Second

// Sink is the outbound half of a client connection.
type Sink interface {
	Send(f collab.Frame) error
	Transport() string
}

// Options configure a Broadcaster.
type Options struct {
	PingInterval time.Duration
	Now          func() time.Time
}

// Broadcaster opens connections onto rooms held by a registry.
type Broadcaster struct {
	registry     *collab.Registry
	pingInterval time.Duration
	now          func() time.Time
}

// New creates a Broadcaster over the given registry.
func New(registry *collab.Registry, opts Options) *Broadcaster {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broadcaster{
		registry:     registry,
		pingInterval: opts.PingInterval,
		now:          opts.Now,
	}
}

// Connection is one participant's open stream. It is owned by the goroutine
// that calls Serve; nothing else holds the sink.
type Connection struct {
	ID            string
	RoomID        string
	ParticipantID string

	b    *Broadcaster
	sink Sink
	room *collab.Room
	sub  *collab.Subscription

	mu         sync.Mutex
	lastPingAt time.Time

	releaseOnce sync.Once
}

// Open registers a connection and joins its participant to the room,
// creating the room if needed. The caller must call Serve (or Close) so the
// participant leaves when the connection ends.
func (b *Broadcaster) Open(roomID, participantID string, sink Sink) (*Connection, error) {
	connID := uuid.NewString()
	room, sub, seq, err := b.registry.Attach(roomID, connID, participantID)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	metrics.StreamsActive.WithLabelValues(sink.Transport()).Inc()
	log.Printf("stream: %s opened (room=%s participant=%s transport=%s seq=%d)",
		connID, roomID, participantID, sink.Transport(), seq)

	return &Connection{
		ID:            connID,
		RoomID:        roomID,
		ParticipantID: participantID,
		b:             b,
		sink:          sink,
		room:          room,
		sub:           sub,
		lastPingAt:    b.now(),
	}, nil
}

// Serve pushes room events and keep-alive pings to the sink until ctx is
// cancelled by the transport, a write fails, or the room is torn down. The
// participant always leaves the room before Serve returns.
//
// A cancelled ctx is the normal end of a stream and yields a nil error.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.Close()

	ticker := time.NewTicker(c.b.pingInterval)
	defer ticker.Stop()

	// The subscriber's own Joined may already be queued.
	if err := c.flush(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.sub.Ready():
			if err := c.flush(); err != nil {
				return err
			}
		case <-c.sub.Done():
			if err := c.flush(); err != nil {
				return err
			}
			if err := c.sub.Err(); errors.Is(err, collab.ErrSlowSubscriber) {
				metrics.SubscriberOverflowsTotal.Inc()
				return err
			}
			return nil
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return err
			}
		}
	}
}

// Close leaves the room and releases the subscription. Safe to call more
// than once; only the first call has an effect.
func (c *Connection) Close() {
	c.releaseOnce.Do(func() {
		if _, err := c.room.Leave(c.ParticipantID); err != nil {
			log.Printf("stream: %s leave room %s: %v", c.ID, c.RoomID, err)
		}
		c.room.Unsubscribe(c.sub)
		metrics.StreamsActive.WithLabelValues(c.sink.Transport()).Dec()
		log.Printf("stream: %s closed (room=%s participant=%s)", c.ID, c.RoomID, c.ParticipantID)
	})
}

// LastPingAt reports when the last keep-alive was written.
func (c *Connection) LastPingAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPingAt
}

func (c *Connection) flush() error {
	for _, e := range c.sub.Drain() {
		frame, err := e.Frame()
		if err != nil {
			// A malformed event must not take the connection down.
			log.Printf("stream: %s skip event: %v", c.ID, err)
			continue
		}
		if err := c.sink.Send(frame); err != nil {
			return fmt.Errorf("send %s seq %d: %w", frame.Type, frame.Seq, err)
		}
	}
	return nil
}

func (c *Connection) ping() error {
	now := c.b.now()
	frame, _ := collab.Ping(now).Frame()
	if err := c.sink.Send(frame); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}
	c.mu.Lock()
	c.lastPingAt = now
	c.mu.Unlock()
	return nil
}
