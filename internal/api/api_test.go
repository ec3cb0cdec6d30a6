package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opensandbox/codespace/internal/audit"
	"github.com/opensandbox/codespace/internal/collab"
	"github.com/opensandbox/codespace/internal/completion"
	"github.com/opensandbox/codespace/internal/credentials"
	"github.com/opensandbox/codespace/internal/crypto"
	"github.com/opensandbox/codespace/internal/gateway"
	"github.com/opensandbox/codespace/internal/metrics"
	"github.com/opensandbox/codespace/internal/runner"
	"github.com/opensandbox/codespace/internal/storage"
	"github.com/opensandbox/codespace/internal/stream"
	"github.com/opensandbox/codespace/pkg/types"
)

func newTestServer(t *testing.T, apiKey string) *Server {
	t.Helper()
	workspace := t.TempDir()

	files, err := storage.NewLocalStore(workspace)
	if err != nil {
		t.Fatalf("NewLocalStore() error: %v", err)
	}
	sealer, _ := crypto.NewSealer(nil)
	commandLog, err := audit.Open(t.TempDir(), "test-node")
	if err != nil {
		t.Fatalf("audit.Open() error: %v", err)
	}
	t.Cleanup(func() { commandLog.Close() })

	reg := collab.NewRegistry(collab.RoomOptions{})
	return NewServer(Deps{
		APIKey:            apiKey,
		Runner:            runner.New("/bin/sh", 0),
		DefaultWorkingDir: workspace,
		DefaultTimeout:    5 * time.Second,
		MaxTimeout:        10 * time.Second,
		Registry:          reg,
		Broadcaster:       stream.New(reg, stream.Options{PingInterval: time.Hour}),
		Gateway:           gateway.New(reg),
		Files:             files,
		Keys:              credentials.NewMemoryStore(sealer),
		Responder:         completion.SimulatedResponder{},
		Audit:             commandLog,
	})
}

func doJSON(t *testing.T, s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func intPtr(n int) *int { return &n }

func TestExecute_Echo(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/execute", types.ExecuteRequest{
		Command:       "echo hello",
		TimeoutMillis: intPtr(5000),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp types.ExecuteResponse
	decodeBody(t, rec, &resp)
	if !resp.Success || resp.Output != "hello" || resp.Error != "" || resp.ExitCode != 0 || resp.TimedOut {
		t.Errorf("unexpected response: %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339Nano, resp.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC 3339: %v", resp.Timestamp, err)
	}
}

func TestExecute_Timeout(t *testing.T) {
	s := newTestServer(t, "")

	start := time.Now()
	rec := doJSON(t, s, http.MethodPost, "/api/execute", types.ExecuteRequest{
		Command:       "sleep 60",
		TimeoutMillis: intPtr(100),
	})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout was not enforced, took %s", elapsed)
	}

	var resp types.ExecuteResponse
	decodeBody(t, rec, &resp)
	if !resp.Success || resp.Output != "" || resp.Error != "Command timed out" || resp.ExitCode != 124 || !resp.TimedOut {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestExecute_HugeTimeoutIsClamped(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/execute",
		`{"command":"sleep 0.2; echo done","timeoutMillis":9223372036854776}`)
	var resp types.ExecuteResponse
	decodeBody(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.TimedOut || resp.ExitCode != 0 || resp.Output != "done" {
		t.Errorf("expected command to complete under the clamped timeout, got %d: %+v", rec.Code, resp)
	}
}

func TestExecute_NonZeroExitIsSuccessfulCall(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/execute", types.ExecuteRequest{Command: "echo oops >&2; exit 3"})
	var resp types.ExecuteResponse
	decodeBody(t, rec, &resp)
	if rec.Code != http.StatusOK || !resp.Success || resp.ExitCode != 3 || resp.Error != "oops" {
		t.Errorf("unexpected response %d: %+v", rec.Code, resp)
	}
}

func TestExecute_SpawnErrorOutcome(t *testing.T) {
	s := newTestServer(t, "")

	spawnErrors := metrics.CommandsTotal.WithLabelValues("spawn_error")
	before := testutil.ToFloat64(spawnErrors)
	rec := doJSON(t, s, http.MethodPost, "/api/execute", types.ExecuteRequest{
		Command:          "echo hi",
		WorkingDirectory: "/nonexistent/codespace-dir",
	})
	var resp types.ExecuteResponse
	decodeBody(t, rec, &resp)
	if resp.ExitCode != 1 || resp.Error == "" {
		t.Errorf("expected spawn failure response, got %+v", resp)
	}
	if got := testutil.ToFloat64(spawnErrors) - before; got != 1 {
		t.Errorf("expected spawn_error counter to grow by 1, got %v", got)
	}
}

func TestExecute_BadRequests(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed JSON", `{"command": `},
		{"missing command", types.ExecuteRequest{}},
		{"blank command", types.ExecuteRequest{Command: "   "}},
		{"zero timeout", types.ExecuteRequest{Command: "true", TimeoutMillis: intPtr(0)}},
		{"negative timeout", types.ExecuteRequest{Command: "true", TimeoutMillis: intPtr(-5)}},
		{"unbalanced quotes", types.ExecuteRequest{Command: `echo "open`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/execute", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["error"] == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestListCommands(t *testing.T) {
	s := newTestServer(t, "")
	doJSON(t, s, http.MethodPost, "/api/execute", types.ExecuteRequest{Command: "true"})
	doJSON(t, s, http.MethodPost, "/api/execute", types.ExecuteRequest{Command: "false"})

	rec := doJSON(t, s, http.MethodGet, "/api/commands?limit=10", nil)
	var records []types.CommandRecord
	decodeBody(t, rec, &records)
	if len(records) != 2 || records[0].Command != "false" || records[0].ExitCode != 1 {
		t.Errorf("unexpected records: %+v", records)
	}

	if rec := doJSON(t, s, http.MethodGet, "/api/commands?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestSubmitEvent_Errors(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/collab/events", types.EventSubmission{
		Type:   "cursor_update",
		RoomID: "r1",
		Data:   json.RawMessage(`{"participantId":"A","file":"a.ts","line":3,"column":1}`),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for non-member cursor, got %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/collab/events", types.EventSubmission{
		Type:   "rename_room",
		RoomID: "r1",
		Data:   json.RawMessage(`{}`),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/collab/events", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}

	if rec := doJSON(t, s, http.MethodGet, "/api/collab/rooms/r1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("rejected events must not create rooms, got %d", rec.Code)
	}
}

func TestMetricLabelsStayBounded(t *testing.T) {
	s := newTestServer(t, "")

	eventsBefore := testutil.CollectAndCount(metrics.RoomEventsTotal)
	for i := 0; i < 50; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/collab/events", types.EventSubmission{
			Type:   fmt.Sprintf("bogus_%d", i),
			RoomID: "r1",
			Data:   json.RawMessage(`{}`),
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
		}
	}
	if added := testutil.CollectAndCount(metrics.RoomEventsTotal) - eventsBefore; added > 1 {
		t.Errorf("unknown event types added %d series, want at most 1", added)
	}

	for i := 0; i < 20; i++ {
		doJSON(t, s, http.MethodPost, "/api/execute", types.ExecuteRequest{Command: fmt.Sprintf("nope_%d", i)})
	}
	// One series per outcome: ok, failed, timeout, spawn_error.
	if n := testutil.CollectAndCount(metrics.CommandDuration); n > 4 {
		t.Errorf("command duration has %d series, want at most 4", n)
	}
}

func TestSubmitEvent_JoinAndLeave(t *testing.T) {
	s := newTestServer(t, "")

	join := types.EventSubmission{Type: "join_room", RoomID: "r1", Data: json.RawMessage(`{"participantId":"A"}`)}
	rec := doJSON(t, s, http.MethodPost, "/api/collab/events", join)
	var ack types.EventAck
	decodeBody(t, rec, &ack)
	if rec.Code != http.StatusOK || !ack.Success || ack.Seq != 1 {
		t.Fatalf("unexpected join ack %d: %+v", rec.Code, ack)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/collab/rooms/r1", nil)
	var snap collab.Snapshot
	decodeBody(t, rec, &snap)
	if len(snap.Participants) != 1 || snap.Participants[0] != "A" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	leave := types.EventSubmission{Type: "leave_room", RoomID: "r1", Data: json.RawMessage(`{"participantId":"A"}`)}
	if rec := doJSON(t, s, http.MethodPost, "/api/collab/events", leave); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for leave, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodGet, "/api/collab/rooms/r1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("room should be removed after last leave, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodPost, "/api/collab/events", leave); rec.Code != http.StatusOK {
		t.Errorf("leaving twice should be a no-op, got %d", rec.Code)
	}
}

// sseClient reads frames from a collaboration stream.
type sseClient struct {
	frames chan types.StreamFrame
	cancel context.CancelFunc
}

func openStream(t *testing.T, baseURL, roomID, participantID string) *sseClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	url := baseURL + "/api/collab/stream?roomId=" + roomID + "&participantId=" + participantID
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("open stream: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	c := &sseClient{frames: make(chan types.StreamFrame, 64), cancel: cancel}
	go func() {
		defer resp.Body.Close()
		defer close(c.frames)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var f types.StreamFrame
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
				continue
			}
			c.frames <- f
		}
	}()
	return c
}

func (c *sseClient) next(t *testing.T) types.StreamFrame {
	t.Helper()
	select {
	case f, ok := <-c.frames:
		if !ok {
			t.Fatal("stream closed")
		}
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return types.StreamFrame{}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCollabStream_EndToEnd(t *testing.T) {
	s := newTestServer(t, "")
	ts := httptest.NewServer(s)
	defer ts.Close()

	b := openStream(t, ts.URL, "r1", "B")
	defer b.cancel()
	joinB := b.next(t)
	if joinB.Type != "participant_joined" || joinB.ParticipantID != "B" {
		t.Fatalf("B's first frame should be its own join, got %+v", joinB)
	}

	a := openStream(t, ts.URL, "r1", "A")
	defer a.cancel()
	joinA := a.next(t)
	if joinA.Type != "participant_joined" || joinA.ParticipantID != "A" {
		t.Fatalf("A's first frame should be its own join, got %+v", joinA)
	}
	if seen := b.next(t); seen.Seq != joinA.Seq || seen.ParticipantID != "A" {
		t.Fatalf("B should see A's join with the same seq, got %+v", seen)
	}

	rec := doJSON(t, s, http.MethodPost, "/api/collab/events", types.EventSubmission{
		Type:   "cursor_update",
		RoomID: "r1",
		Data:   json.RawMessage(`{"participantId":"A","file":"a.ts","line":3,"column":1}`),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cursor_update rejected: %d %s", rec.Code, rec.Body.String())
	}

	cur := b.next(t)
	if cur.Type != "cursor_moved" || cur.ParticipantID != "A" || cur.File != "a.ts" {
		t.Fatalf("expected A's cursor_moved, got %+v", cur)
	}
	if cur.Line == nil || *cur.Line != 3 || cur.Column == nil || *cur.Column != 1 {
		t.Errorf("unexpected cursor position: %+v", cur)
	}
	if cur.Seq <= joinA.Seq || cur.Seq <= joinB.Seq {
		t.Errorf("cursor seq %d must exceed both joins (%d, %d)", cur.Seq, joinB.Seq, joinA.Seq)
	}

	b.cancel()
	left := a.next(t)
	if left.Type != "participant_left" || left.ParticipantID != "B" {
		t.Fatalf("A should see B leave, got %+v", left)
	}
	room, ok := s.deps.Registry.Get("r1")
	if !ok || room.IsMember("B") {
		t.Fatal("B must be gone while the room stays alive for A")
	}

	a.cancel()
	waitFor(t, func() bool {
		_, ok := s.deps.Registry.Get("r1")
		return !ok
	}, "room should be removed after the last stream closed")
}

func TestCollabStream_GeneratedParticipant(t *testing.T) {
	s := newTestServer(t, "")
	ts := httptest.NewServer(s)
	defer ts.Close()

	c := openStream(t, ts.URL, "r2", "")
	defer c.cancel()
	if f := c.next(t); f.Type != "participant_joined" || len(f.ParticipantID) != 36 {
		t.Errorf("expected a generated UUID participant, got %+v", f)
	}
}

func TestCollabStream_MissingRoom(t *testing.T) {
	s := newTestServer(t, "")
	if rec := doJSON(t, s, http.MethodGet, "/api/collab/stream", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without roomId, got %d", rec.Code)
	}
}

func TestFiles(t *testing.T) {
	s := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPut, "/api/files?path=src/app.ts", strings.NewReader("let x = 1"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for write, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/files?path=src/app.ts", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "let x = 1" {
		t.Errorf("unexpected read %d: %q", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/files/list?path=src", nil)
	var entries []types.EntryInfo
	decodeBody(t, rec, &entries)
	if len(entries) != 1 || entries[0].Path != "src/app.ts" {
		t.Errorf("unexpected listing: %+v", entries)
	}

	if rec := doJSON(t, s, http.MethodGet, "/api/files?path=../etc/passwd", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for escaping path, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodDelete, "/api/files?path=src/app.ts", nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for delete, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodGet, "/api/files?path=src/app.ts", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestKeys(t *testing.T) {
	s := newTestServer(t, "")

	create := types.CreateKeyRequest{Name: "openai", Provider: "openai", Key: "sk-test-1234567890wxyz"}
	rec := doJSON(t, s, http.MethodPost, "/api/keys", create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, s, http.MethodPost, "/api/keys", create); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/keys", nil)
	if strings.Contains(rec.Body.String(), "1234567890") {
		t.Fatalf("listing leaks key material: %s", rec.Body.String())
	}
	var keys []types.KeyInfo
	decodeBody(t, rec, &keys)
	if len(keys) != 1 || keys[0].Masked != "sk-...wxyz" {
		t.Errorf("unexpected keys: %+v", keys)
	}

	if rec := doJSON(t, s, http.MethodDelete, "/api/keys/openai", nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for revoke, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodDelete, "/api/keys/openai", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for second revoke, got %d", rec.Code)
	}
}

func TestCompletions(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/completions", types.CompletionRequest{Prompt: "explain this"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.CompletionResponse
	decodeBody(t, rec, &resp)
	if resp.Text == "" || resp.Model == "" || resp.Usage.TotalTokens != resp.Usage.PromptTokens+resp.Usage.CompletionTokens {
		t.Errorf("unexpected completion: %+v", resp)
	}

	if rec := doJSON(t, s, http.MethodPost, "/api/completions", types.CompletionRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty prompt, got %d", rec.Code)
	}
}

func TestAuthAndHealth(t *testing.T) {
	s := newTestServer(t, "secret")

	if rec := doJSON(t, s, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health must not require a key, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodGet, "/api/collab/rooms", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodGet, "/api/collab/rooms?api_key=secret", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", rec.Code)
	}

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "codespace_http_requests_total") {
		t.Errorf("metrics endpoint missing HTTP counters: %d", rec.Code)
	}
}
