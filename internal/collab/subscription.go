package collab

import (
	"errors"
	"sync"
)

// DefaultQueueLimit is the number of undelivered events a subscription may
// hold before it is closed as a slow consumer.
const DefaultQueueLimit = 1024

var (
	// ErrSlowSubscriber closes a subscription whose consumer fell too far behind.
	ErrSlowSubscriber = errors.New("subscriber fell behind")
	// ErrRoomClosed closes subscriptions of a room that was torn down.
	ErrRoomClosed = errors.New("room closed")
	// ErrUnsubscribed is the close reason after an explicit Unsubscribe.
	ErrUnsubscribed = errors.New("unsubscribed")
)

// Subscription receives a room's events in sequence order. The room appends
// to it while holding the room lock; appends never block. A consumer waits on
// Ready, then calls Drain.
type Subscription struct {
	id            string
	participantID string
	limit         int

	mu     sync.Mutex
	queue  []Event
	closed bool
	err    error

	ready chan struct{}
	done  chan struct{}
}

func newSubscription(id, participantID string, limit int) *Subscription {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	return &Subscription{
		id:            id,
		participantID: participantID,
		limit:         limit,
		ready:         make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// ID returns the subscription (connection) identifier.
func (s *Subscription) ID() string { return s.id }

// ParticipantID returns the participant this subscription belongs to.
func (s *Subscription) ParticipantID() string { return s.participantID }

// Ready is signalled whenever new events are queued.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Done is closed when the subscription ends. Err reports why.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the close reason, or nil while the subscription is open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Drain removes and returns every queued event.
func (s *Subscription) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.queue
	s.queue = nil
	return events
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.limit {
		s.mu.Unlock()
		s.close(ErrSlowSubscriber)
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) close(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = reason
	close(s.done)
}
