package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	StreamName    = "CODESPACE_COMMANDS"
	subjectPrefix = "codespace.commands"
	syncInterval  = 2 * time.Second
	syncBatch     = 100
)

// Outbox is the source of events to forward.
type Outbox interface {
	Unsynced(limit int) ([]Event, error)
	MarkSynced(ids []int64) error
}

// publishFunc sends one message to JetStream.
type publishFunc func(subject string, data []byte) error

// Publisher forwards audit events from the local outbox to NATS JetStream.
type Publisher struct {
	nc      *nats.Conn
	publish publishFunc
	outbox  Outbox
	nodeID  string
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NATSEvent is the JSON payload published to NATS.
type NATSEvent struct {
	Type      string          `json:"type"`
	NodeID    string          `json:"node_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// NewPublisher connects to NATS and ensures the audit stream exists.
func NewPublisher(natsURL, nodeID string, outbox Outbox) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("codespace-"+nodeID),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		// Stream may already exist, that's OK
		log.Printf("audit: stream setup: %v", err)
	}

	p := newPublisher(outbox, nodeID, func(subject string, data []byte) error {
		_, err := js.Publish(subject, data)
		return err
	})
	p.nc = nc
	return p, nil
}

func newPublisher(outbox Outbox, nodeID string, publish publishFunc) *Publisher {
	return &Publisher{
		publish: publish,
		outbox:  outbox,
		nodeID:  nodeID,
		stop:    make(chan struct{}),
	}
}

// Start begins the sync loop.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.sync()
			case <-p.stop:
				// Final flush
				p.sync()
				return
			}
		}
	}()
}

// Stop stops the sync loop and closes the NATS connection.
func (p *Publisher) Stop() {
	close(p.stop)
	p.wg.Wait()
	if p.nc != nil {
		p.nc.Close()
	}
}

// sync forwards one batch and returns how many events were marked synced.
// A failed publish stops the batch so events stay in order.
func (p *Publisher) sync() int {
	events, err := p.outbox.Unsynced(syncBatch)
	if err != nil {
		log.Printf("audit: read outbox: %v", err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, p.nodeID)
	var synced []int64
	for _, e := range events {
		data, _ := json.Marshal(NATSEvent{
			Type:      e.Type,
			NodeID:    p.nodeID,
			Payload:   json.RawMessage(e.Payload),
			CreatedAt: e.CreatedAt,
		})
		if err := p.publish(subject, data); err != nil {
			log.Printf("audit: publish event %d: %v", e.ID, err)
			break
		}
		synced = append(synced, e.ID)
	}

	if err := p.outbox.MarkSynced(synced); err != nil {
		log.Printf("audit: mark synced: %v", err)
		return 0
	}
	if len(synced) > 0 {
		log.Printf("audit: synced %d events to NATS", len(synced))
	}
	return len(synced)
}
