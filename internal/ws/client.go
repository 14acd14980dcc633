package ws

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/hypercode/collab/internal/ratelimit"
	"github.com/hypercode/collab/internal/wire"
)

const sendBufferSize = 512

// Client owns one upgraded connection: the raw byte stream, the frame
// reader and the outbound send queue. Room membership fields (username,
// roomID) are written only by the hub dispatcher after a join.
type Client struct {
	hub  *Hub
	conn net.Conn

	socketID string
	username string
	roomID   string

	limiter *ratelimit.Limiter
	send    chan []byte

	mu     sync.Mutex
	closed bool
}

// ServeWS upgrades an HTTP request on /ws and hands the connection to the
// hub. Requests that are not well-formed WebSocket upgrades are rejected
// by destroying the underlying socket with no response.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return
	}

	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		log.Printf("hijack error: %v", err)
		return
	}

	if !wire.IsUpgradeRequest(r) {
		conn.Close()
		return
	}

	secKey := r.Header.Get("Sec-WebSocket-Key")
	if _, err := bufrw.WriteString(wire.HandshakeResponse(secKey)); err != nil {
		conn.Close()
		return
	}
	if err := bufrw.Flush(); err != nil {
		conn.Close()
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		socketID: uuid.NewString(),
		limiter:  hub.newLimiter(),
		send:     make(chan []byte, sendBufferSize),
	}

	go client.writePump()
	go client.readPump(bufrw.Reader)
}

// SocketID returns the connection's ephemeral identifier.
func (c *Client) SocketID() string {
	return c.socketID
}

// readPump drives the frame codec against inbound bytes and funnels every
// complete text message to the hub dispatcher. It exits on any transport
// or protocol error; the deferred disconnect keeps room state consistent.
func (c *Client) readPump(buffered *bufio.Reader) {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	reader := wire.NewReader(buffered)
	reader.OnPing = func(payload []byte) {
		pong, err := wire.EncodePong(payload)
		if err != nil {
			return
		}
		c.Send(pong)
	}
	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, wire.ErrConnectionClosed):
				// Clean close from the peer.
			case errors.Is(err, wire.ErrUnsupportedLength):
				log.Printf("client %s sent 64-bit payload length, closing", c.socketID)
				c.writeClose(wire.CloseProtocolError, "64-bit payload length not supported")
			case errors.Is(err, wire.ErrUnmaskedFrame):
				log.Printf("client %s sent unmasked frame, closing", c.socketID)
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				// Peer went away mid-frame.
			default:
				log.Printf("read error from %s: %v", c.socketID, err)
			}
			return
		}

		if !c.limiter.Allow() {
			log.Printf("rate limit exceeded for client %s, dropping message", c.socketID)
			continue
		}

		c.hub.Inbound(c, msg)
	}
}

// writePump serializes all outbound writes for this connection.
func (c *Client) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		if _, err := c.conn.Write(frame); err != nil {
			return
		}
	}
}

// Send enqueues a pre-encoded frame. A full buffer drops the frame rather
// than blocking the room dispatcher.
func (c *Client) Send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- frame:
	default:
		log.Printf("send buffer full for client %s, dropping frame", c.socketID)
	}
}

// Close shuts the outbound queue; the write pump then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) writeClose(code uint16, reason string) {
	frame, err := wire.EncodeClose(code, reason)
	if err != nil {
		return
	}
	c.Send(frame)
}
