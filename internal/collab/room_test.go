package collab

import (
	"errors"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func newTestRoom(opts RoomOptions) *Room {
	opts.Now = fixedNow
	return NewRoom("r1", opts)
}

func kinds(events []Event) []Kind {
	out := make([]Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestRoom_JoinEmitsJoined(t *testing.T) {
	room := newTestRoom(RoomOptions{})
	sub, seq, err := room.Attach("c1", "alice")
	if err != nil {
		t.Fatalf("Attach() error: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected seq 1, got %d", seq)
	}

	events := sub.Drain()
	if len(events) != 1 || events[0].Kind != KindJoined || events[0].ParticipantID != "alice" {
		t.Fatalf("expected own Joined event, got %+v", events)
	}
	if events[0].RoomID != "r1" || events[0].Seq != 1 {
		t.Errorf("unexpected event envelope: %+v", events[0])
	}
}

func TestRoom_JoinTwiceIsNoop(t *testing.T) {
	room := newTestRoom(RoomOptions{})
	sub, _, err := room.Attach("c1", "alice")
	if err != nil {
		t.Fatalf("Attach() error: %v", err)
	}

	seq, err := room.Join("alice")
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected current seq 1, got %d", seq)
	}

	if got := room.Snapshot().Participants; len(got) != 1 {
		t.Errorf("expected one participant, got %v", got)
	}
	if events := sub.Drain(); len(events) != 1 {
		t.Errorf("expected a single Joined event, got %v", kinds(events))
	}
}

func TestRoom_CursorRequiresMembership(t *testing.T) {
	room := newTestRoom(RoomOptions{})
	sub, _, _ := room.Attach("c1", "alice")
	sub.Drain()

	_, err := room.ApplyCursor("mallory", CursorPosition{File: "a.ts", Line: 3, Column: 1})
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	if events := sub.Drain(); len(events) != 0 {
		t.Errorf("rejected update must not broadcast, got %v", kinds(events))
	}
	if snap := room.Snapshot(); snap.LastEventSeq != 1 || len(snap.Cursors) != 0 {
		t.Errorf("rejected update mutated room: %+v", snap)
	}
}

func TestRoom_ContentRequiresMembership(t *testing.T) {
	room := newTestRoom(RoomOptions{})
	if _, err := room.ApplyContent("mallory", "a.ts", "@@ -1 +1 @@"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
}

func TestRoom_CursorAndContentRelay(t *testing.T) {
	room := newTestRoom(RoomOptions{})
	subA, _, _ := room.Attach("ca", "alice")
	subB, _, _ := room.Attach("cb", "bob")

	if _, err := room.ApplyCursor("alice", CursorPosition{File: "a.ts", Line: 3, Column: 1}); err != nil {
		t.Fatalf("ApplyCursor() error: %v", err)
	}
	if _, err := room.ApplyContent("bob", "a.ts", "+line"); err != nil {
		t.Fatalf("ApplyContent() error: %v", err)
	}

	a := subA.Drain()
	b := subB.Drain()

	// alice sees her join, bob's join, her cursor, bob's patch.
	if len(a) != 4 {
		t.Fatalf("alice: expected 4 events, got %v", kinds(a))
	}
	// bob subscribed after alice joined, so he sees neither her Joined nor anything earlier.
	if len(b) != 3 {
		t.Fatalf("bob: expected 3 events, got %v", kinds(b))
	}
	for i := range b {
		if b[i].Seq != a[i+1].Seq {
			t.Errorf("subscribers disagree at %d: %d vs %d", i, b[i].Seq, a[i+1].Seq)
		}
	}

	cursor := b[1]
	if cursor.Kind != KindCursorMoved || cursor.ParticipantID != "alice" {
		t.Fatalf("expected alice's cursor, got %+v", cursor)
	}
	if cursor.Seq <= b[0].Seq {
		t.Errorf("cursor seq %d must follow bob's join seq %d", cursor.Seq, b[0].Seq)
	}
	if cursor.Cursor.File != "a.ts" || cursor.Cursor.Line != 3 || cursor.Cursor.Column != 1 {
		t.Errorf("unexpected cursor payload: %+v", cursor.Cursor)
	}
	if patch := a[3]; patch.Content == nil || patch.Content.Patch != "+line" {
		t.Errorf("expected literal patch relay, got %+v", patch)
	}

	snap := room.Snapshot()
	if pos, ok := snap.Cursors["alice"]; !ok || pos.Line != 3 {
		t.Errorf("expected alice's cursor in snapshot, got %+v", snap.Cursors)
	}
}

func TestRoom_ExcludeOrigin(t *testing.T) {
	room := newTestRoom(RoomOptions{ExcludeOrigin: true})
	subA, _, _ := room.Attach("ca", "alice")
	subB, _, _ := room.Attach("cb", "bob")
	subA.Drain()
	subB.Drain()

	room.ApplyCursor("alice", CursorPosition{File: "a.ts", Line: 1})

	if events := subA.Drain(); len(events) != 0 {
		t.Errorf("origin should not receive its own cursor, got %v", kinds(events))
	}
	if events := subB.Drain(); len(events) != 1 {
		t.Errorf("peer should receive cursor, got %v", kinds(events))
	}
}

func TestRoom_LeaveRemovesCursor(t *testing.T) {
	room := newTestRoom(RoomOptions{})
	room.Join("alice")
	sub, _, _ := room.Attach("cb", "bob")
	room.ApplyCursor("alice", CursorPosition{File: "a.ts", Line: 9})
	sub.Drain()

	seq, err := room.Leave("alice")
	if err != nil {
		t.Fatalf("Leave() error: %v", err)
	}

	events := sub.Drain()
	if len(events) != 1 || events[0].Kind != KindLeft || events[0].Seq != seq {
		t.Fatalf("expected Left with seq %d, got %+v", seq, events)
	}
	snap := room.Snapshot()
	if _, ok := snap.Cursors["alice"]; ok {
		t.Error("cursor should be removed on leave")
	}
	if len(snap.Participants) != 1 || snap.Participants[0] != "bob" {
		t.Errorf("unexpected participants: %v", snap.Participants)
	}
}

func TestRoom_LeaveNonMemberIsNoop(t *testing.T) {
	room := newTestRoom(RoomOptions{})
	sub, _, _ := room.Attach("c1", "alice")
	sub.Drain()

	seq, err := room.Leave("ghost")
	if err != nil {
		t.Fatalf("Leave() error: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected unchanged seq 1, got %d", seq)
	}
	if events := sub.Drain(); len(events) != 0 {
		t.Errorf("expected no events, got %v", kinds(events))
	}
}

func TestRoom_Connected(t *testing.T) {
	room := newTestRoom(RoomOptions{})
	room.Join("alice")
	if room.Connected("alice") {
		t.Error("member without subscription should not count as connected")
	}

	sub, _, _ := room.Attach("c1", "alice")
	if !room.Connected("alice") {
		t.Error("expected alice connected")
	}

	room.Unsubscribe(sub)
	if room.Connected("alice") {
		t.Error("expected alice disconnected after unsubscribe")
	}
	if !errors.Is(sub.Err(), ErrUnsubscribed) {
		t.Errorf("expected ErrUnsubscribed, got %v", sub.Err())
	}
}

func TestRoom_SlowSubscriberIsClosed(t *testing.T) {
	room := newTestRoom(RoomOptions{QueueLimit: 2})
	sub, _, _ := room.Attach("c1", "alice")

	room.ApplyCursor("alice", CursorPosition{Line: 1})
	room.ApplyCursor("alice", CursorPosition{Line: 2})

	select {
	case <-sub.Done():
	default:
		t.Fatal("expected subscription closed after overflow")
	}
	if !errors.Is(sub.Err(), ErrSlowSubscriber) {
		t.Errorf("expected ErrSlowSubscriber, got %v", sub.Err())
	}
	if events := sub.Drain(); len(events) != 2 {
		t.Errorf("expected the two events queued before overflow, got %d", len(events))
	}
}

func TestEvent_Frame(t *testing.T) {
	e := Event{
		Kind:          KindCursorMoved,
		RoomID:        "r1",
		Seq:           4,
		ParticipantID: "alice",
		Cursor:        &CursorPosition{File: "a.ts", Line: 0, Column: 2},
		At:            fixedNow(),
	}
	f, err := e.Frame()
	if err != nil {
		t.Fatalf("Frame() error: %v", err)
	}
	if f.Type != "cursor_moved" || f.Seq != 4 || f.RoomID != "r1" || f.ParticipantID != "alice" {
		t.Errorf("unexpected frame envelope: %+v", f)
	}
	if f.Line == nil || *f.Line != 0 || f.Column == nil || *f.Column != 2 {
		t.Errorf("line/column must be present even when zero: %+v", f)
	}
	if f.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("unexpected timestamp %q", f.Timestamp)
	}

	ping, err := Ping(fixedNow()).Frame()
	if err != nil {
		t.Fatalf("Frame() error: %v", err)
	}
	if ping.Type != "ping" || ping.Seq != 0 || ping.RoomID != "" {
		t.Errorf("ping frame must carry no seq or room: %+v", ping)
	}

	if _, err := (Event{Kind: KindCursorMoved}).Frame(); err == nil {
		t.Error("expected error for cursor event without position")
	}
	if _, err := (Event{Kind: KindUnknown}).Frame(); err == nil {
		t.Error("expected error for unknown kind")
	}
}
