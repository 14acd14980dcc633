// Package session maintains one logical room membership across an
// unreliable transport: connection lifecycle, join handshake, outbound
// queuing, debounced content broadcasting, heartbeat and reconnection
// with capped exponential backoff.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hypercode/collab/internal/protocol"
)

// State is the session lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpenUnjoined
	StateJoined
	StateClosing
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpenUnjoined:
		return "OPEN_UNJOINED"
	case StateJoined:
		return "JOINED"
	case StateClosing:
		return "CLOSING"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Config holds the session's fixed parameters.
type Config struct {
	// URL is the ws:// or wss:// endpoint, e.g. "ws://host:3000/ws".
	URL string
	// Username shown in presence lists.
	Username string

	// HeartbeatInterval between application-level pings. Default 25s.
	HeartbeatInterval time.Duration
	// DebounceDelay coalesces rapid content changes per file. Default 80ms.
	DebounceDelay time.Duration
	// BaseReconnectDelay is the first backoff step. Default 500ms.
	BaseReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff. Default 5s.
	MaxReconnectDelay time.Duration

	// Dialer used to open the transport. Defaults to
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 25 * time.Second
	}
	if out.DebounceDelay <= 0 {
		out.DebounceDelay = 80 * time.Millisecond
	}
	if out.BaseReconnectDelay <= 0 {
		out.BaseReconnectDelay = 500 * time.Millisecond
	}
	if out.MaxReconnectDelay <= 0 {
		out.MaxReconnectDelay = 5 * time.Second
	}
	if out.Dialer == nil {
		out.Dialer = websocket.DefaultDialer
	}
	return out
}

type outboundMsg struct {
	Action  protocol.Action
	Payload map[string]any
}

// Session is one logical membership in one room. All exported methods
// are safe for concurrent use.
type Session struct {
	cfg Config

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	roomID   string
	socketID string
	joined   bool
	leaving  bool
	closed   bool

	clients []protocol.ClientInfo

	outbox   []outboundMsg
	debounce map[string]*time.Timer

	attempts       int
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}

	handlers handlerSet
	metrics  metrics

	// writeMu serializes transport writes; gorilla connections allow a
	// single concurrent writer.
	writeMu sync.Mutex

	// writeFn is swapped in tests to capture wire traffic.
	writeFn func(data []byte) error
}

// New creates an idle session. Call Join to connect.
func New(cfg Config) *Session {
	s := &Session{
		cfg:      cfg.withDefaults(),
		state:    StateDisconnected,
		debounce: make(map[string]*time.Timer),
	}
	s.handlers.init()
	s.writeFn = s.writeToConn
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the transport is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// SocketID returns this session's server-assigned socket id, empty until
// the join is confirmed.
func (s *Session) SocketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketID
}

// Clients returns the current presence list.
func (s *Session) Clients() []protocol.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ClientInfo, len(s.clients))
	copy(out, s.clients)
	return out
}

// Join targets roomID and opens the transport if needed. A fresh Join to
// a different room clears the debounce timers and the outbox; in-flight
// sends for the prior room are not recalled.
func (s *Session) Join(roomID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.roomID != roomID {
		s.clearDebounceLocked()
		s.outbox = nil
		s.joined = false
	}
	s.roomID = roomID
	s.leaving = false

	if s.conn != nil {
		s.mu.Unlock()
		s.sendJoin()
		return
	}

	s.state = StateConnecting
	s.mu.Unlock()
	go s.connect()
}

// Leave tears down the membership: the leave message is sent, reconnect
// is suppressed, all timers are cancelled and the outbox is cleared.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.state == StateDisconnected && s.conn == nil {
		s.mu.Unlock()
		return
	}
	s.leaving = true
	s.state = StateClosing
	roomID := s.roomID
	conn := s.conn

	s.outbox = nil
	s.joined = false
	s.clients = nil
	s.clearDebounceLocked()
	s.stopReconnectLocked()
	s.stopHeartbeatLocked()
	s.mu.Unlock()

	if conn != nil {
		s.sendRaw(outboundMsg{
			Action:  protocol.ActionLeave,
			Payload: map[string]any{"roomId": roomID},
		})
		conn.Close()
	}

	s.mu.Lock()
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()
}

// Close is Leave plus a permanent stop: the session will not reconnect
// and further calls are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Leave()
}

func (s *Session) connect() {
	s.mu.Lock()
	if s.closed || s.leaving {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	url := s.cfg.URL
	dialer := s.cfg.Dialer
	s.mu.Unlock()

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		log.Printf("session: dial %s: %v", url, err)
		s.scheduleReconnect()
		return
	}

	s.mu.Lock()
	if s.closed || s.leaving {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = StateOpenUnjoined
	s.attempts = 0
	s.startHeartbeatLocked()
	s.mu.Unlock()

	go s.readLoop(conn)

	// Join goes out immediately, bypassing the outbox.
	s.metrics.markJoinSent()
	s.sendJoin()
}

func (s *Session) sendJoin() {
	s.mu.Lock()
	roomID, username := s.roomID, s.cfg.Username
	s.mu.Unlock()
	if roomID == "" {
		return
	}
	s.sendRaw(outboundMsg{
		Action:  protocol.ActionJoin,
		Payload: map[string]any{"roomId": roomID, "username": username},
	})
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.onTransportClosed(conn)
			return
		}
		s.dispatch(data)
	}
}

// onTransportClosed handles a transport close or error not caused by an
// explicit local leave: down the session and schedule a reconnect.
func (s *Session) onTransportClosed(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		// A newer connection already replaced this one.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.joined = false
	s.clients = nil
	s.socketID = ""
	s.stopHeartbeatLocked()

	if s.leaving || s.closed {
		s.state = StateDisconnected
		s.mu.Unlock()
		return
	}
	s.state = StateReconnecting
	s.mu.Unlock()

	s.metrics.markReconnect()
	s.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer:
// delay = min(max, base * 2^attempt), attempt reset on successful open.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.leaving || s.reconnectTimer != nil {
		return
	}

	delay := backoffDelay(s.attempts, s.cfg.BaseReconnectDelay, s.cfg.MaxReconnectDelay)
	s.attempts++
	s.state = StateReconnecting

	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		stale := s.closed || s.leaving || s.conn != nil
		s.mu.Unlock()
		if stale {
			return
		}
		s.connect()
	})
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (s *Session) stopReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.attempts = 0
}

func (s *Session) startHeartbeatLocked() {
	s.stopHeartbeatLocked()
	stop := make(chan struct{})
	s.heartbeatStop = stop

	interval := s.cfg.HeartbeatInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.sendRaw(outboundMsg{
					Action:  protocol.ActionPing,
					Payload: map[string]any{},
				})
			}
		}
	}()
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

func (s *Session) clearDebounceLocked() {
	for key, timer := range s.debounce {
		timer.Stop()
		delete(s.debounce, key)
	}
}

// send delivers msg now when joined, otherwise appends it to the outbox
// in arrival order.
func (s *Session) send(msg outboundMsg) {
	s.mu.Lock()
	if !s.joined || s.conn == nil {
		s.outbox = append(s.outbox, msg)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.sendRaw(msg)
}

// sendRaw stamps ts when absent and writes the envelope to the transport.
func (s *Session) sendRaw(msg outboundMsg) {
	if msg.Payload == nil {
		msg.Payload = map[string]any{}
	}
	if _, ok := msg.Payload["ts"]; !ok {
		msg.Payload["ts"] = protocol.NowMillis()
	}

	data, err := protocol.Marshal(msg.Action, msg.Payload)
	if err != nil {
		log.Printf("session: encode %s: %v", msg.Action, err)
		return
	}

	s.metrics.addBytesOut(len(data))
	if err := s.writeFn(data); err != nil {
		log.Printf("session: write %s: %v", msg.Action, err)
	}
}

func (s *Session) writeToConn(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// markJoined flips to JOINED on first membership confirmation and
// flushes the outbox in FIFO order.
func (s *Session) markJoined() {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return
	}
	s.joined = true
	s.state = StateJoined
	queued := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	s.metrics.markJoined()
	for _, msg := range queued {
		s.sendRaw(msg)
	}
}
