package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/hypercode/collab/internal/db"
	"github.com/hypercode/collab/internal/protocol"
	"github.com/hypercode/collab/internal/ratelimit"
	"github.com/hypercode/collab/internal/snapshot"
	"github.com/hypercode/collab/internal/wire"
)

const (
	messagesPerSecond = 100
	messageBurst      = 200

	inboundBufferSize    = 2048
	disconnectBufferSize = 64
)

// Hub is the authority for room state: who is present and what the latest
// known content of every file is. All room mutation happens on the single
// Run goroutine, so message interleavings per room are serialized and
// broadcasts preserve server processing order.
type Hub struct {
	store   *snapshot.Store
	history *db.History // optional version history, may be nil

	// mu guards the rooms map and every room's client list: the
	// dispatcher holds the write lock while adding or removing clients
	// so the stats accessors can read membership under the read lock.
	mu    sync.RWMutex
	rooms map[string]*Room

	inbound      chan inboundMessage
	disconnectCh chan *Client
}

type inboundMessage struct {
	client *Client
	data   []byte
}

// NewHub creates a hub backed by the given snapshot store. history may be
// nil to disable version recording.
func NewHub(store *snapshot.Store, history *db.History) *Hub {
	return &Hub{
		store:        store,
		history:      history,
		rooms:        make(map[string]*Room),
		inbound:      make(chan inboundMessage, inboundBufferSize),
		disconnectCh: make(chan *Client, disconnectBufferSize),
	}
}

// Run is the room dispatcher. It must be the only goroutine that touches
// room contents.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.inbound:
			h.route(msg.client, msg.data)
		case client := <-h.disconnectCh:
			h.handleDisconnect(client)
		}
	}
}

// Inbound hands a decoded text message to the dispatcher.
func (h *Hub) Inbound(c *Client, data []byte) {
	h.inbound <- inboundMessage{client: c, data: data}
}

// Disconnect reports a closed or failed connection to the dispatcher.
func (h *Hub) Disconnect(c *Client) {
	h.disconnectCh <- c
}

func (h *Hub) newLimiter() *ratelimit.Limiter {
	return ratelimit.New(messagesPerSecond, messageBurst)
}

// RoomCount returns the number of rooms with at least one client.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// ClientCount returns the number of connected clients across all rooms.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, room := range h.rooms {
		total += len(room.clients)
	}
	return total
}

// ActiveRooms returns room id → client count for every live room.
func (h *Hub) ActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	active := make(map[string]int, len(h.rooms))
	for id, room := range h.rooms {
		active[id] = len(room.clients)
	}
	return active
}

// route interprets one application-level envelope. Malformed input is
// logged and dropped; it never crashes the room or corrupts other
// clients' state.
func (h *Hub) route(c *Client, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("dropping unparseable message from %s: %v", c.socketID, err)
		return
	}

	switch env.Action {
	case protocol.ActionJoin:
		h.handleJoin(c, env.Payload)
	case protocol.ActionLeave:
		h.handleLeave(c)
	case protocol.ActionContentChange:
		h.handleContent(c, env.Payload, protocol.ActionContentChange)
	case protocol.ActionSaved:
		h.handleContent(c, env.Payload, protocol.ActionSaved)
	case protocol.ActionFileOp:
		h.handleFileOp(c, env.Payload)
	case protocol.ActionRequestFile:
		h.handleRequestFile(c, env.Payload)
	case protocol.ActionPing:
		h.sendTo(c, protocol.ActionPong, struct {
			TS int64 `json:"ts"`
		}{protocol.NowMillis()})
	case protocol.ActionPong:
		// No semantic effect.
	default:
		log.Printf("dropping message with unknown action %q from %s", env.Action, c.socketID)
	}
}

func (h *Hub) handleJoin(c *Client, raw json.RawMessage) {
	var p protocol.JoinPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" || p.Username == "" {
		log.Printf("dropping join with missing roomId/username from %s", c.socketID)
		return
	}

	// A fresh join while already in a different room moves the client
	// silently; the old room sees a disconnect.
	if c.roomID != "" && c.roomID != p.RoomID {
		h.removeFromRoom(c)
	}

	c.username = p.Username
	c.roomID = p.RoomID

	room := h.getOrCreateRoom(p.RoomID)
	h.mu.Lock()
	room.addClient(c)
	h.mu.Unlock()

	presence := protocol.PresencePayload{
		Clients:  room.presence(),
		Username: c.username,
		SocketID: c.socketID,
		TS:       protocol.NowMillis(),
	}

	// Whole room, including the sender.
	room.broadcast("", protocol.ActionJoined, presence)
	// Sender only: confirms its own membership early.
	h.sendTo(c, protocol.ActionJoinedSelf, presence)
	// Sender only: full current snapshot.
	h.sendTo(c, protocol.ActionSyncFiles, protocol.SyncFilesPayload{
		Files: room.files,
		TS:    protocol.NowMillis(),
	})

	log.Printf("client %s (%s) joined room %s (%d present)", c.socketID, c.username, room.id, len(room.clients))
}

// handleLeave treats an explicit leave identically to an unexpected
// disconnect, then tears the connection down.
func (h *Hub) handleLeave(c *Client) {
	h.removeFromRoom(c)
	c.Close()
}

func (h *Hub) handleContent(c *Client, raw json.RawMessage, action protocol.Action) {
	var p protocol.ContentPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.FileID == "" {
		log.Printf("dropping %s with missing fileId from %s", action, c.socketID)
		return
	}

	room := h.roomOf(c)
	if room == nil {
		log.Printf("dropping %s from %s: not in a room", action, c.socketID)
		return
	}

	// Last write wins at fileId granularity.
	room.files[p.FileID] = p.Content

	if err := h.store.Save(room.id, room.files); err != nil {
		log.Printf("snapshot save failed for room %s: %v", room.id, err)
	}
	if action == protocol.ActionSaved && h.history != nil {
		if err := h.history.RecordAuto(room.id, p.FileID, p.Content); err != nil {
			log.Printf("version record failed for room %s: %v", room.id, err)
		}
	}

	ts := p.TS
	if ts == 0 {
		ts = protocol.NowMillis()
	}
	room.broadcast(c.socketID, action, protocol.ContentPayload{
		FileID:  p.FileID,
		Content: p.Content,
		TS:      ts,
	})
}

// handleFileOp relays a file-tree mutation verbatim, minus roomId, to the
// rest of the room. The snapshot is not touched.
func (h *Hub) handleFileOp(c *Client, raw json.RawMessage) {
	room := h.roomOf(c)
	if room == nil {
		log.Printf("dropping file-op from %s: not in a room", c.socketID)
		return
	}

	forward := make(map[string]any)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &forward); err != nil {
			log.Printf("dropping malformed file-op from %s: %v", c.socketID, err)
			return
		}
	}
	delete(forward, "roomId")
	if _, ok := forward["ts"]; !ok {
		forward["ts"] = protocol.NowMillis()
	}

	room.broadcast(c.socketID, protocol.ActionFileOp, forward)
}

// handleRequestFile answers with a content-change-shaped message so the
// requester reuses its normal content-apply path.
func (h *Hub) handleRequestFile(c *Client, raw json.RawMessage) {
	var p protocol.RequestFilePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.FileID == "" {
		log.Printf("dropping request-file with missing fileId from %s", c.socketID)
		return
	}

	room := h.roomOf(c)
	if room == nil {
		log.Printf("dropping request-file from %s: not in a room", c.socketID)
		return
	}

	h.sendTo(c, protocol.ActionContentChange, protocol.ContentPayload{
		FileID:  p.FileID,
		Content: room.files[p.FileID],
		TS:      protocol.NowMillis(),
	})
}

func (h *Hub) handleDisconnect(c *Client) {
	h.removeFromRoom(c)
	c.Close()
}

// removeFromRoom drops c from its room, broadcasts the departure to the
// remaining members and evicts the in-memory room entry when the client
// list becomes empty. The on-disk snapshot is never deleted here.
func (h *Hub) removeFromRoom(c *Client) {
	if c.roomID == "" {
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[c.roomID]
	h.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	removed := room.removeClient(c)
	h.mu.Unlock()
	if !removed {
		return
	}

	room.broadcast("", protocol.ActionDisconnected, protocol.DisconnectedPayload{
		SocketID: c.socketID,
		Username: c.username,
	})
	log.Printf("client %s (%s) left room %s (%d remaining)", c.socketID, c.username, room.id, len(room.clients))

	if room.empty() {
		h.mu.Lock()
		delete(h.rooms, room.id)
		h.mu.Unlock()
		log.Printf("room %s idle, evicted from memory (snapshot retained)", room.id)
	}
}

func (h *Hub) getOrCreateRoom(id string) *Room {
	h.mu.RLock()
	room, ok := h.rooms[id]
	h.mu.RUnlock()
	if ok {
		return room
	}

	// Hydrate lazily from disk on the first join.
	files, err := h.store.Load(id)
	if err != nil {
		log.Printf("snapshot load failed for room %s, starting empty: %v", id, err)
	}
	room = newRoom(id, files)

	h.mu.Lock()
	h.rooms[id] = room
	h.mu.Unlock()
	return room
}

func (h *Hub) roomOf(c *Client) *Room {
	if c.roomID == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[c.roomID]
}

func (h *Hub) sendTo(c *Client, action protocol.Action, payload any) {
	data, err := protocol.Marshal(action, payload)
	if err != nil {
		log.Printf("encode %s for %s: %v", action, c.socketID, err)
		return
	}
	frame, err := wire.EncodeText(data)
	if err != nil {
		log.Printf("frame %s for %s: %v", action, c.socketID, err)
		return
	}
	c.Send(frame)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range h.rooms {
		for _, c := range room.clients {
			c.Close()
		}
	}
	h.rooms = make(map[string]*Room)
}
