package session

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/hypercode/collab/internal/protocol"
)

// handlerSet holds subscriber callbacks. Each OnX method returns an
// unsubscribe func, so multiple independent listeners can coexist.
type handlerSet struct {
	mu     sync.Mutex
	nextID int

	content  map[int]func(protocol.ContentPayload)
	saved    map[int]func(protocol.ContentPayload)
	fileOp   map[int]func(protocol.FileOpPayload)
	presence map[int]func(protocol.PresencePayload)
}

func (h *handlerSet) init() {
	h.content = make(map[int]func(protocol.ContentPayload))
	h.saved = make(map[int]func(protocol.ContentPayload))
	h.fileOp = make(map[int]func(protocol.FileOpPayload))
	h.presence = make(map[int]func(protocol.PresencePayload))
}

func (h *handlerSet) add(register func(id int), remove func(id int)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	register(id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			remove(id)
			h.mu.Unlock()
		})
	}
}

// OnContentChange subscribes to incoming content updates, including the
// synthetic ones fanned out from a room snapshot sync.
func (s *Session) OnContentChange(fn func(protocol.ContentPayload)) func() {
	h := &s.handlers
	return h.add(
		func(id int) { h.content[id] = fn },
		func(id int) { delete(h.content, id) },
	)
}

// OnSaved subscribes to explicit save notifications from peers.
func (s *Session) OnSaved(fn func(protocol.ContentPayload)) func() {
	h := &s.handlers
	return h.add(
		func(id int) { h.saved[id] = fn },
		func(id int) { delete(h.saved, id) },
	)
}

// OnFileOp subscribes to file tree operations from peers.
func (s *Session) OnFileOp(fn func(protocol.FileOpPayload)) func() {
	h := &s.handlers
	return h.add(
		func(id int) { h.fileOp[id] = fn },
		func(id int) { delete(h.fileOp, id) },
	)
}

// OnPresence subscribes to room membership changes. The payload's
// Clients field carries the full roster on joins; on disconnects the
// session's Clients accessor reflects the updated roster.
func (s *Session) OnPresence(fn func(protocol.PresencePayload)) func() {
	h := &s.handlers
	return h.add(
		func(id int) { h.presence[id] = fn },
		func(id int) { delete(h.presence, id) },
	)
}

func (h *handlerSet) contentList() []func(protocol.ContentPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]func(protocol.ContentPayload), 0, len(h.content))
	for _, fn := range h.content {
		out = append(out, fn)
	}
	return out
}

func (h *handlerSet) savedList() []func(protocol.ContentPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]func(protocol.ContentPayload), 0, len(h.saved))
	for _, fn := range h.saved {
		out = append(out, fn)
	}
	return out
}

func (h *handlerSet) fileOpList() []func(protocol.FileOpPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]func(protocol.FileOpPayload), 0, len(h.fileOp))
	for _, fn := range h.fileOp {
		out = append(out, fn)
	}
	return out
}

func (h *handlerSet) presenceList() []func(protocol.PresencePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]func(protocol.PresencePayload), 0, len(h.presence))
	for _, fn := range h.presence {
		out = append(out, fn)
	}
	return out
}

// dispatch routes one inbound message. Malformed messages are logged and
// dropped; they never tear down the session.
func (s *Session) dispatch(data []byte) {
	s.metrics.addBytesIn(len(data))

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("session: drop malformed message: %v", err)
		return
	}

	switch env.Action {
	case protocol.ActionJoined:
		s.handleJoined(env.Payload)
	case protocol.ActionJoinedSelf:
		s.handleJoinedSelf(env.Payload)
	case protocol.ActionSyncFiles:
		s.handleSyncFiles(env.Payload)
	case protocol.ActionContentChange:
		s.handleContentChange(env.Payload)
	case protocol.ActionSaved:
		s.handleSaved(env.Payload)
	case protocol.ActionFileOp:
		s.handleFileOp(env.Payload)
	case protocol.ActionDisconnected:
		s.handleDisconnected(env.Payload)
	case protocol.ActionPing, protocol.ActionPong:
		// Heartbeat traffic carries no state.
	default:
		log.Printf("session: drop unknown action %q", env.Action)
	}
}

func (s *Session) handleJoined(raw json.RawMessage) {
	var p protocol.PresencePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("session: drop joined: %v", err)
		return
	}
	s.metrics.observeLatency(p.TS)

	s.mu.Lock()
	s.clients = p.Clients
	s.mu.Unlock()

	for _, fn := range s.handlers.presenceList() {
		fn(p)
	}
}

func (s *Session) handleJoinedSelf(raw json.RawMessage) {
	var p protocol.PresencePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("session: drop joined-self: %v", err)
		return
	}
	s.metrics.observeLatency(p.TS)

	s.mu.Lock()
	s.clients = p.Clients
	s.socketID = p.SocketID
	s.mu.Unlock()

	s.markJoined()
}

// handleSyncFiles fans the room snapshot out as one synthetic content
// change per file, then confirms the join. Receiving it means the server
// registered the membership even if joined-self was lost.
func (s *Session) handleSyncFiles(raw json.RawMessage) {
	var p protocol.SyncFilesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("session: drop sync-files: %v", err)
		return
	}
	s.metrics.observeLatency(p.TS)

	handlers := s.handlers.contentList()
	for fileID, content := range p.Files {
		for _, fn := range handlers {
			fn(protocol.ContentPayload{FileID: fileID, Content: content, TS: p.TS})
		}
	}

	s.markJoined()
}

func (s *Session) handleContentChange(raw json.RawMessage) {
	var p protocol.ContentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("session: drop content-change: %v", err)
		return
	}
	s.metrics.observeLatency(p.TS)
	s.metrics.markContentIn()

	for _, fn := range s.handlers.contentList() {
		fn(p)
	}
}

func (s *Session) handleSaved(raw json.RawMessage) {
	var p protocol.ContentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("session: drop saved: %v", err)
		return
	}
	s.metrics.observeLatency(p.TS)

	for _, fn := range s.handlers.savedList() {
		fn(p)
	}
}

func (s *Session) handleFileOp(raw json.RawMessage) {
	var p protocol.FileOpPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("session: drop file-op: %v", err)
		return
	}
	s.metrics.observeLatency(p.TS)

	for _, fn := range s.handlers.fileOpList() {
		fn(p)
	}
}

func (s *Session) handleDisconnected(raw json.RawMessage) {
	var p protocol.DisconnectedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("session: drop disconnected: %v", err)
		return
	}

	s.mu.Lock()
	kept := s.clients[:0]
	for _, c := range s.clients {
		if c.SocketID != p.SocketID {
			kept = append(kept, c)
		}
	}
	s.clients = kept
	roster := make([]protocol.ClientInfo, len(kept))
	copy(roster, kept)
	s.mu.Unlock()

	for _, fn := range s.handlers.presenceList() {
		fn(protocol.PresencePayload{
			Clients:  roster,
			Username: p.Username,
			SocketID: p.SocketID,
		})
	}
}
