package ws

import (
	"log"

	"github.com/hypercode/collab/internal/protocol"
	"github.com/hypercode/collab/internal/wire"
)

// Room is one collaboration session: an ordered client list plus the
// last-known content of every tracked file. All mutation happens on the
// hub dispatcher goroutine; the dispatcher additionally holds the hub
// lock around client-list changes because the stats accessors read the
// list concurrently.
type Room struct {
	id      string
	clients []*Client
	files   map[string]string
}

func newRoom(id string, files map[string]string) *Room {
	if files == nil {
		files = make(map[string]string)
	}
	return &Room{id: id, files: files}
}

// addClient appends c, first dropping any stale entry with the same
// socket id from an earlier connection.
func (r *Room) addClient(c *Client) {
	kept := r.clients[:0]
	for _, existing := range r.clients {
		if existing.socketID != c.socketID {
			kept = append(kept, existing)
		}
	}
	r.clients = append(kept, c)
}

// removeClient drops c from the client list. Returns true if c was a
// member.
func (r *Room) removeClient(c *Client) bool {
	for i, existing := range r.clients {
		if existing.socketID == c.socketID {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) empty() bool {
	return len(r.clients) == 0
}

// presence returns the room's client list as wire-shaped entries, in join
// order.
func (r *Room) presence() []protocol.ClientInfo {
	infos := make([]protocol.ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, protocol.ClientInfo{SocketID: c.socketID, Username: c.username})
	}
	return infos
}

// broadcast encodes one envelope and fans it out to every client except
// excludeSocketID (empty string excludes nobody). Delivery is a
// synchronous iteration at the time of the triggering message.
func (r *Room) broadcast(excludeSocketID string, action protocol.Action, payload any) {
	data, err := protocol.Marshal(action, payload)
	if err != nil {
		log.Printf("room %s: encode %s: %v", r.id, action, err)
		return
	}
	frame, err := wire.EncodeText(data)
	if err != nil {
		log.Printf("room %s: frame %s: %v", r.id, action, err)
		return
	}

	for _, c := range r.clients {
		if excludeSocketID != "" && c.socketID == excludeSocketID {
			continue
		}
		c.Send(frame)
	}
}
