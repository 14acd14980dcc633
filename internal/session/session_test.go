package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hypercode/collab/internal/protocol"
	"github.com/hypercode/collab/internal/snapshot"
	"github.com/hypercode/collab/internal/ws"
)

// wireCapture records outbound envelopes in write order.
type wireCapture struct {
	mu   sync.Mutex
	msgs []protocol.Envelope
}

func (w *wireCapture) write(data []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	w.mu.Lock()
	w.msgs = append(w.msgs, env)
	w.mu.Unlock()
	return nil
}

func (w *wireCapture) snapshot() []protocol.Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]protocol.Envelope, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// newCapturedSession wires a session to an in-memory transport. joined
// controls whether sends go out directly or queue in the outbox.
func newCapturedSession(t *testing.T, joined bool) (*Session, *wireCapture) {
	t.Helper()
	s := New(Config{URL: "ws://unused", Username: "ada", DebounceDelay: 20 * time.Millisecond})
	capture := &wireCapture{}
	s.writeFn = capture.write

	s.mu.Lock()
	s.roomID = "alpha"
	if joined {
		s.conn = &websocket.Conn{}
		s.joined = true
		s.state = StateJoined
	} else {
		s.state = StateOpenUnjoined
	}
	s.mu.Unlock()
	return s, capture
}

func TestBackoffDelaySequence(t *testing.T) {
	base, max := 500*time.Millisecond, 5*time.Second
	want := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for attempt, expected := range want {
		if got := backoffDelay(attempt, base, max); got != expected {
			t.Errorf("backoffDelay(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestOutboxFlushesInOrder(t *testing.T) {
	s, capture := newCapturedSession(t, false)

	for _, content := range []string{"first", "second", "third"} {
		s.BroadcastSaved("notes.md", content, "")
	}
	if got := capture.snapshot(); len(got) != 0 {
		t.Fatalf("sent %d messages before join confirmation", len(got))
	}

	s.markJoined()

	msgs := capture.snapshot()
	if len(msgs) != 3 {
		t.Fatalf("flushed %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Action != protocol.ActionSaved {
			t.Fatalf("msg %d action = %q", i, msgs[i].Action)
		}
		var p protocol.ContentPayload
		if err := json.Unmarshal(msgs[i].Payload, &p); err != nil {
			t.Fatalf("decode msg %d: %v", i, err)
		}
		if p.Content != want {
			t.Errorf("msg %d content = %q, want %q", i, p.Content, want)
		}
	}
	if s.State() != StateJoined {
		t.Fatalf("state = %v, want JOINED", s.State())
	}
}

func TestContentChangeDebounceCoalesces(t *testing.T) {
	s, capture := newCapturedSession(t, true)

	s.BroadcastContentChange("main.go", "a", "")
	s.BroadcastContentChange("main.go", "ab", "")
	s.BroadcastContentChange("main.go", "abc", "")
	s.BroadcastContentChange("other.go", "x", "")

	time.Sleep(120 * time.Millisecond)

	msgs := capture.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2 (coalesced + other file)", len(msgs))
	}

	byFile := make(map[string]string)
	for _, env := range msgs {
		if env.Action != protocol.ActionContentChange {
			t.Fatalf("action = %q", env.Action)
		}
		var p protocol.ContentPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		byFile[p.FileID] = p.Content
	}
	if byFile["main.go"] != "abc" {
		t.Errorf("main.go content = %q, want last write", byFile["main.go"])
	}
	if byFile["other.go"] != "x" {
		t.Errorf("other.go content = %q", byFile["other.go"])
	}
}

func TestSavedBypassesDebounce(t *testing.T) {
	s, capture := newCapturedSession(t, true)

	s.BroadcastSaved("main.go", "final", "src/main.go")

	msgs := capture.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want immediate save", len(msgs))
	}
	var p protocol.ContentPayload
	if err := json.Unmarshal(msgs[0].Payload, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.RoomID != "alpha" || p.FilePath != "src/main.go" {
		t.Fatalf("payload = %+v", p)
	}
	if p.TS == 0 {
		t.Fatal("outbound message not timestamped")
	}
}

func TestJoinedSelfPromotesAndFlushes(t *testing.T) {
	s, capture := newCapturedSession(t, false)

	s.RequestFile("notes.md")
	if len(capture.snapshot()) != 0 {
		t.Fatal("request sent before join confirmation")
	}

	data, err := protocol.Marshal(protocol.ActionJoinedSelf, protocol.PresencePayload{
		Clients:  []protocol.ClientInfo{{SocketID: "s1", Username: "ada"}},
		SocketID: "s1",
		Username: "ada",
		TS:       protocol.NowMillis(),
	})
	if err != nil {
		t.Fatal(err)
	}
	s.dispatch(data)

	if s.State() != StateJoined {
		t.Fatalf("state = %v, want JOINED", s.State())
	}
	if s.SocketID() != "s1" {
		t.Fatalf("socket id = %q", s.SocketID())
	}

	msgs := capture.snapshot()
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionRequestFile {
		t.Fatalf("flushed = %+v, want one request-file", msgs)
	}
}

func TestSyncFilesFansOutAndConfirmsJoin(t *testing.T) {
	s, _ := newCapturedSession(t, false)

	var mu sync.Mutex
	got := make(map[string]string)
	s.OnContentChange(func(p protocol.ContentPayload) {
		mu.Lock()
		got[p.FileID] = p.Content
		mu.Unlock()
	})

	data, err := protocol.Marshal(protocol.ActionSyncFiles, protocol.SyncFilesPayload{
		Files: map[string]string{"a.go": "alpha", "b.go": "beta"},
		TS:    protocol.NowMillis(),
	})
	if err != nil {
		t.Fatal(err)
	}
	s.dispatch(data)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got["a.go"] != "alpha" || got["b.go"] != "beta" {
		t.Fatalf("fanned out = %+v", got)
	}
	if s.State() != StateJoined {
		t.Fatalf("state = %v, want JOINED", s.State())
	}
}

func TestDisconnectedPrunesRoster(t *testing.T) {
	s, _ := newCapturedSession(t, true)
	s.mu.Lock()
	s.clients = []protocol.ClientInfo{
		{SocketID: "s1", Username: "ada"},
		{SocketID: "s2", Username: "bob"},
	}
	s.mu.Unlock()

	data, err := protocol.Marshal(protocol.ActionDisconnected, protocol.DisconnectedPayload{
		SocketID: "s2", Username: "bob",
	})
	if err != nil {
		t.Fatal(err)
	}
	s.dispatch(data)

	clients := s.Clients()
	if len(clients) != 1 || clients[0].SocketID != "s1" {
		t.Fatalf("roster = %+v", clients)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s, _ := newCapturedSession(t, true)

	var calls int
	unsubscribe := s.OnContentChange(func(protocol.ContentPayload) { calls++ })
	unsubscribe()
	unsubscribe() // second call is a no-op

	data, err := protocol.Marshal(protocol.ActionContentChange, protocol.ContentPayload{
		FileID: "a.go", Content: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	s.dispatch(data)

	if calls != 0 {
		t.Fatalf("handler called %d times after unsubscribe", calls)
	}
}

func TestMalformedInboundIgnored(t *testing.T) {
	s, _ := newCapturedSession(t, true)

	s.dispatch([]byte("{not json"))
	s.dispatch([]byte(`{"action":"joined","payload":"not an object"}`))
	s.dispatch([]byte(`{"action":"made-up","payload":{}}`))

	if s.State() != StateJoined {
		t.Fatalf("state = %v after garbage input", s.State())
	}
}

func startServer(t *testing.T) string {
	t.Helper()
	hub := ws.NewHub(snapshot.New(t.TempDir()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, w, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", s.State(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionsExchangeContent(t *testing.T) {
	url := startServer(t)

	ada := New(Config{URL: url, Username: "ada", DebounceDelay: 10 * time.Millisecond})
	t.Cleanup(ada.Close)
	ada.Join("alpha")
	waitForState(t, ada, StateJoined)

	bob := New(Config{URL: url, Username: "bob"})
	t.Cleanup(bob.Close)

	received := make(chan protocol.ContentPayload, 1)
	bob.OnContentChange(func(p protocol.ContentPayload) {
		select {
		case received <- p:
		default:
		}
	})
	bob.Join("alpha")
	waitForState(t, bob, StateJoined)

	ada.BroadcastContentChange("main.go", "package main", "")

	select {
	case p := <-received:
		if p.FileID != "main.go" || p.Content != "package main" {
			t.Fatalf("received = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("content change never delivered")
	}

	m := ada.Metrics()
	if m.BytesOut == 0 {
		t.Fatal("sender metrics recorded no outbound bytes")
	}
	if m.JoinLatency <= 0 {
		t.Fatal("join latency not measured")
	}
}
