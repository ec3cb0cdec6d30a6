// Package collab holds the in-memory state of live collaboration rooms: who
// is present, where their cursors are, and the ordered sequence of events
// that every subscriber of a room observes.
package collab

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotAMember         = errors.New("participant is not a member of the room")
	ErrInvalidRoomID      = errors.New("room id is required")
	ErrInvalidParticipant = errors.New("participant id is required")
)

// RoomOptions configure every room created by a Registry.
type RoomOptions struct {
	// ExcludeOrigin stops cursor and content events from being echoed back
	// to the subscriptions of the participant that produced them.
	ExcludeOrigin bool
	// QueueLimit caps undelivered events per subscription.
	QueueLimit int
	// Now stamps events; defaults to time.Now.
	Now func() time.Time
}

// Room is one named collaboration session. All mutations are serialized by
// the room mutex, and events are handed to subscribers under the same lock,
// so every subscriber sees one strictly increasing sequence.
type Room struct {
	id      string
	opts    RoomOptions
	onEmpty func(*Room)

	mu           sync.Mutex
	participants map[string]struct{}
	cursors      map[string]CursorPosition
	seq          uint64
	subs         map[string]*Subscription
	closed       bool
}

// NewRoom creates a standalone room. Rooms that should disappear when their
// last participant leaves are created through a Registry instead.
func NewRoom(id string, opts RoomOptions) *Room {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Room{
		id:           id,
		opts:         opts,
		participants: make(map[string]struct{}),
		cursors:      make(map[string]CursorPosition),
		subs:         make(map[string]*Subscription),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Join adds a participant and emits Joined. Joining twice is a no-op that
// returns the current sequence number.
func (r *Room) Join(participantID string) (uint64, error) {
	if participantID == "" {
		return 0, ErrInvalidParticipant
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRoomClosed
	}
	return r.joinLocked(participantID), nil
}

func (r *Room) joinLocked(participantID string) uint64 {
	if _, ok := r.participants[participantID]; ok {
		return r.seq
	}
	r.participants[participantID] = struct{}{}
	return r.emitLocked(Event{Kind: KindJoined, ParticipantID: participantID})
}

// Leave removes a participant and its cursor, then emits Left. Leaving when
// not a member is a no-op. When the last participant leaves, the owning
// registry is asked to drop the room.
func (r *Room) Leave(participantID string) (uint64, error) {
	r.mu.Lock()
	if _, ok := r.participants[participantID]; !ok {
		seq := r.seq
		r.mu.Unlock()
		return seq, nil
	}
	delete(r.participants, participantID)
	delete(r.cursors, participantID)
	seq := r.emitLocked(Event{Kind: KindLeft, ParticipantID: participantID})
	empty := len(r.participants) == 0
	r.mu.Unlock()

	if empty && r.onEmpty != nil {
		r.onEmpty(r)
	}
	return seq, nil
}

// ApplyCursor records a member's cursor and emits CursorMoved.
func (r *Room) ApplyCursor(participantID string, pos CursorPosition) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[participantID]; !ok {
		return 0, ErrNotAMember
	}
	r.cursors[participantID] = pos
	return r.emitLocked(Event{Kind: KindCursorMoved, ParticipantID: participantID, Cursor: &pos}), nil
}

// ApplyContent relays a member's document patch as ContentChanged. The
// patch is not inspected or merged.
func (r *Room) ApplyContent(participantID, file, patch string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[participantID]; !ok {
		return 0, ErrNotAMember
	}
	return r.emitLocked(Event{
		Kind:          KindContentChanged,
		ParticipantID: participantID,
		Content:       &ContentPatch{File: file, Patch: patch},
	}), nil
}

// Attach subscribes a connection and joins its participant in one step, so
// the subscription observes its own Joined event and nothing before it.
func (r *Room) Attach(connID, participantID string) (*Subscription, uint64, error) {
	if participantID == "" {
		return nil, 0, ErrInvalidParticipant
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, 0, ErrRoomClosed
	}
	sub := newSubscription(connID, participantID, r.opts.QueueLimit)
	r.subs[connID] = sub
	return sub, r.joinLocked(participantID), nil
}

// Unsubscribe detaches a subscription. It does not change membership.
func (r *Room) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	delete(r.subs, sub.id)
	r.mu.Unlock()
	sub.close(ErrUnsubscribed)
}

// IsMember reports whether the participant has joined.
func (r *Room) IsMember(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[participantID]
	return ok
}

// Connected reports whether the participant is a member with at least one
// open subscription.
func (r *Room) Connected(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[participantID]; !ok {
		return false
	}
	for _, sub := range r.subs {
		if sub.participantID == participantID {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time copy of a room's shared state.
type Snapshot struct {
	RoomID       string                    `json:"roomId"`
	Participants []string                  `json:"participants"`
	Cursors      map[string]CursorPosition `json:"cursors"`
	LastEventSeq uint64                    `json:"lastEventSeq"`
	Subscribers  int                       `json:"subscribers"`
}

// Snapshot copies the room state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		RoomID:       r.id,
		Participants: make([]string, 0, len(r.participants)),
		Cursors:      make(map[string]CursorPosition, len(r.cursors)),
		LastEventSeq: r.seq,
		Subscribers:  len(r.subs),
	}
	for id := range r.participants {
		s.Participants = append(s.Participants, id)
	}
	sort.Strings(s.Participants)
	for id, pos := range r.cursors {
		s.Cursors[id] = pos
	}
	return s
}

// closeIfEmpty marks an empty room closed and ends its subscriptions.
// Called by the registry with the registry lock held.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.participants) > 0 {
		return false
	}
	if r.closed {
		return true
	}
	r.closed = true
	for id, sub := range r.subs {
		delete(r.subs, id)
		sub.close(ErrRoomClosed)
	}
	return true
}

func (r *Room) emitLocked(e Event) uint64 {
	r.seq++
	e.Seq = r.seq
	e.RoomID = r.id
	e.At = r.opts.Now()

	echo := !r.opts.ExcludeOrigin || (e.Kind != KindCursorMoved && e.Kind != KindContentChanged)
	for _, sub := range r.subs {
		if !echo && sub.participantID == e.ParticipantID {
			continue
		}
		sub.push(e)
	}
	return e.Seq
}
