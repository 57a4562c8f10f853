// Package room holds the in-memory state of a single chat room: which
// connections map to which display names, who is typing, and the ordered
// message log. A Room is not safe for concurrent use; the server's router
// owns one behind its event loop, and the client owns one for its
// offline-fallback echo.
package room

import (
	"sort"

	"github.com/talksync/talksync/pkg/event"
)

// Room is the state of one chat room.
type Room struct {
	names  map[string]string // connection id -> display name
	order  []string          // connection ids in join order
	typing map[string]struct{}
	log    []event.Message
}

// New returns an empty room.
func New() *Room {
	return &Room{
		names:  make(map[string]string),
		typing: make(map[string]struct{}),
		log:    make([]event.Message, 0, 64),
	}
}

// Join registers a connection under a display name and returns the history
// snapshot plus the online-name list as of this join. Both are taken in the
// same step, so no message appended after the join leaks into the snapshot.
// Joining twice on the same connection overwrites the prior name
// (last-write-wins); the connection keeps its original position.
func (r *Room) Join(connID, name string) (history []event.Message, online []string) {
	if _, ok := r.names[connID]; !ok {
		r.order = append(r.order, connID)
	}
	r.names[connID] = name
	return r.History(), r.OnlineNames()
}

// Disconnect removes a connection and clears its name from the typing set.
// ok is false when the connection never completed a join.
func (r *Room) Disconnect(connID string) (name string, online []string, ok bool) {
	name, ok = r.names[connID]
	if !ok {
		return "", nil, false
	}
	delete(r.names, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	delete(r.typing, name)
	return name, r.OnlineNames(), true
}

// Append adds a message to the log. Messages arrive with their server-assigned
// ID and timestamp already set; the log never reorders or drops them.
func (r *Room) Append(msg event.Message) event.Message {
	r.log = append(r.log, msg)
	return msg
}

// StartTyping marks a name as typing and returns the typing-name snapshot.
// Marking an already-typing name again is a no-op.
func (r *Room) StartTyping(name string) []string {
	r.typing[name] = struct{}{}
	return r.TypingNames()
}

// StopTyping clears a name's typing status. Stopping a name that is not
// typing is a no-op.
func (r *Room) StopTyping(name string) []string {
	delete(r.typing, name)
	return r.TypingNames()
}

// OnlineNames returns the display names of all joined connections, sorted
// for stable broadcast order. Duplicate names are kept: two sessions sharing
// a name produce two entries.
func (r *Room) OnlineNames() []string {
	names := make([]string, 0, len(r.order))
	for _, id := range r.order {
		names = append(names, r.names[id])
	}
	sort.Strings(names)
	return names
}

// TypingNames returns the sorted typing-name snapshot.
func (r *Room) TypingNames() []string {
	names := make([]string, 0, len(r.typing))
	for name := range r.typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// History returns a copy of the message log in arrival order.
func (r *Room) History() []event.Message {
	return append([]event.Message(nil), r.log...)
}
