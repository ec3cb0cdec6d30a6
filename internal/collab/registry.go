package collab

import (
	"errors"
	"log"
	"sort"
	"sync"
)

// Registry is the process-wide table of live rooms. A room is created on
// first join and removed once its participant set becomes empty.
//
// Lock order is registry then room. Rooms never call back into the registry
// while holding their own lock.
type Registry struct {
	opts RoomOptions

	// OnRoomCreated and OnRoomRemoved are invoked outside the registry lock.
	OnRoomCreated func(roomID string)
	OnRoomRemoved func(roomID string)

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry whose rooms use opts.
func NewRegistry(opts RoomOptions) *Registry {
	return &Registry{
		opts:  opts,
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns the room for id, creating an empty one if absent.
// Concurrent callers for the same id observe the same room.
func (g *Registry) GetOrCreate(roomID string) *Room {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if !ok {
		room = NewRoom(roomID, g.opts)
		room.onEmpty = g.removeRoom
		g.rooms[roomID] = room
	}
	g.mu.Unlock()

	if !ok {
		log.Printf("collab: room %s created", roomID)
		if g.OnRoomCreated != nil {
			g.OnRoomCreated(roomID)
		}
	}
	return room
}

// Get returns the room for id if it exists.
func (g *Registry) Get(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	return room, ok
}

// Remove drops the room only if it has no participants. It reports whether
// the room was removed.
func (g *Registry) Remove(roomID string) bool {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if !ok || !room.closeIfEmpty() {
		g.mu.Unlock()
		return false
	}
	delete(g.rooms, roomID)
	g.mu.Unlock()

	g.removed(roomID)
	return true
}

// Join adds the participant to the room, creating the room if needed.
func (g *Registry) Join(roomID, participantID string) (*Room, uint64, error) {
	if roomID == "" {
		return nil, 0, ErrInvalidRoomID
	}
	if participantID == "" {
		return nil, 0, ErrInvalidParticipant
	}
	for {
		room := g.GetOrCreate(roomID)
		seq, err := room.Join(participantID)
		if errors.Is(err, ErrRoomClosed) {
			// Torn down between lookup and join; the next lookup creates a fresh room.
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		return room, seq, nil
	}
}

// Attach subscribes a connection to the room and joins its participant,
// creating the room if needed.
func (g *Registry) Attach(roomID, connID, participantID string) (*Room, *Subscription, uint64, error) {
	if roomID == "" {
		return nil, nil, 0, ErrInvalidRoomID
	}
	if participantID == "" {
		return nil, nil, 0, ErrInvalidParticipant
	}
	for {
		room := g.GetOrCreate(roomID)
		sub, seq, err := room.Attach(connID, participantID)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, nil, 0, err
		}
		return room, sub, seq, nil
	}
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Rooms returns snapshots of every live room ordered by id.
func (g *Registry) Rooms() []Snapshot {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	snaps := make([]Snapshot, 0, len(rooms))
	for _, room := range rooms {
		snaps = append(snaps, room.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].RoomID < snaps[j].RoomID })
	return snaps
}

// removeRoom is the room's empty signal. The room may have been refilled or
// replaced since it fired, so identity and emptiness are checked again.
func (g *Registry) removeRoom(room *Room) {
	g.mu.Lock()
	if g.rooms[room.id] != room || !room.closeIfEmpty() {
		g.mu.Unlock()
		return
	}
	delete(g.rooms, room.id)
	g.mu.Unlock()

	g.removed(room.id)
}

func (g *Registry) removed(roomID string) {
	log.Printf("collab: room %s removed", roomID)
	if g.OnRoomRemoved != nil {
		g.OnRoomRemoved(roomID)
	}
}
