package main

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/talksync/talksync/pkg/event"
	"github.com/talksync/talksync/pkg/msgid"
	"github.com/talksync/talksync/pkg/room"
)

// maxTextLen caps the text of a single message, matching the input form's
// limit. Longer text is truncated, not rejected.
const maxTextLen = 500

// frame is one inbound envelope attributed to its session.
type frame struct {
	sess *session
	env  *event.Envelope
}

// router is the single owner of the room state. All mutation happens on the
// run goroutine: sessions push lifecycle events and inbound frames through
// channels, the router applies them one at a time and fans the results out
// on per-session send channels. Per session, frames arrive in read order, so
// processing is FIFO per connection.
type router struct {
	register   chan *session
	unregister chan *session
	inbound    chan frame

	room     *room.Room
	sessions map[*session]bool
	ids      *msgid.Source

	// Live connections, tracked outside the event loop so shutdown can send
	// close frames without touching router-owned state.
	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}

	wg sync.WaitGroup // tracks session pump goroutines
}

func newRouter() *router {
	ids, err := msgid.New(0)
	if err != nil {
		log.Fatal().Err(err).Msg("init msgid source")
	}
	return &router{
		register:   make(chan *session),
		unregister: make(chan *session),
		inbound:    make(chan frame, 256),
		room:       room.New(),
		sessions:   make(map[*session]bool),
		ids:        ids,
		conns:      make(map[*websocket.Conn]struct{}),
	}
}

// run is the router's event loop. It never returns; the process lifetime is
// the room lifetime, and a restart starts from an empty room.
func (r *router) run() {
	for {
		select {
		case s := <-r.register:
			r.handleRegister(s)
		case s := <-r.unregister:
			r.handleUnregister(s)
		case f := <-r.inbound:
			r.handleFrame(f)
		}
	}
}

func (r *router) handleRegister(s *session) {
	r.sessions[s] = true
	log.Info().Str("session", s.id).Msg("connection opened")
}

func (r *router) handleUnregister(s *session) {
	if !r.sessions[s] {
		return
	}
	delete(r.sessions, s)
	close(s.send)
	name, online, joined := r.room.Disconnect(s.id)
	log.Info().Str("session", s.id).Str("name", name).Msg("connection closed")
	if joined {
		r.broadcast(event.TypeUserLeft, event.Presence{Name: name, OnlineNames: online})
	}
}

func (r *router) handleFrame(f frame) {
	switch f.env.Event {
	case event.TypeJoin:
		r.handleJoin(f)
	case event.TypeMessage:
		r.handleMessage(f)
	case event.TypeTyping:
		r.handleTyping(f, true)
	case event.TypeStopTyping:
		r.handleTyping(f, false)
	default:
		log.Debug().Str("event", string(f.env.Event)).Msg("dropping unknown event")
	}
}

func (r *router) handleJoin(f frame) {
	var p event.Join
	if err := f.env.Decode(&p); err != nil {
		log.Debug().Err(err).Msg("dropping malformed join")
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		log.Debug().Str("session", f.sess.id).Msg("dropping join without name")
		return
	}

	f.sess.name = name
	f.sess.joined = true
	history, online := r.room.Join(f.sess.id, name)

	// History and the presence broadcast come from the same snapshot, so a
	// message appended after this join can never already be in the history.
	r.unicast(f.sess, event.TypeMessageHistory, history)
	if !r.sessions[f.sess] {
		// The history unicast overflowed the session's buffer and dropped
		// it; announcing the join now would contradict the user_left that
		// already went out.
		return
	}
	r.broadcast(event.TypeUserJoined, event.Presence{Name: name, OnlineNames: online})
	log.Info().Str("name", name).Msg("joined the chat")
}

func (r *router) handleMessage(f frame) {
	if !f.sess.joined {
		log.Debug().Str("session", f.sess.id).Msg("dropping message before join")
		return
	}
	var p event.Send
	if err := f.env.Decode(&p); err != nil {
		log.Debug().Err(err).Msg("dropping malformed message")
		return
	}
	if p.Name == "" {
		p.Name = f.sess.name
	}
	if p.Text == "" && p.Image == "" {
		log.Debug().Str("name", p.Name).Msg("dropping empty message")
		return
	}
	if runes := []rune(p.Text); len(runes) > maxTextLen {
		p.Text = string(runes[:maxTextLen])
	}

	msg := r.room.Append(event.Message{
		ID:        r.ids.Next(),
		Name:      p.Name,
		Text:      p.Text,
		Image:     p.Image,
		Timestamp: time.Now().UTC(),
	})
	// The sender receives its own message too; when connected, clients render
	// from the server echo rather than optimistic local state.
	r.broadcast(event.TypeNewMessage, msg)
}

func (r *router) handleTyping(f frame, start bool) {
	var p event.TypingSignal
	if err := f.env.Decode(&p); err != nil || p.Name == "" {
		log.Debug().Msg("dropping malformed typing signal")
		return
	}
	var names []string
	t := event.TypeUserTyping
	if start {
		names = r.room.StartTyping(p.Name)
	} else {
		names = r.room.StopTyping(p.Name)
		t = event.TypeUserStopTyping
	}
	r.broadcastExcept(f.sess, t, event.TypingState{Name: p.Name, TypingNames: names})
}

// broadcast sends an event to every connected session, including the
// originator if any.
func (r *router) broadcast(t event.Type, data any) {
	r.broadcastExcept(nil, t, data)
}

// broadcastExcept sends an event to every session but skip. A session whose
// send buffer is full is dropped rather than allowed to stall the room.
func (r *router) broadcastExcept(skip *session, t event.Type, data any) {
	raw, err := event.Marshal(t, data)
	if err != nil {
		log.Error().Err(err).Str("event", string(t)).Msg("marshal broadcast")
		return
	}
	var dead []*session
	for s := range r.sessions {
		if s == skip {
			continue
		}
		select {
		case s.send <- raw:
		default:
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		log.Warn().Str("session", s.id).Msg("dropping slow session")
		r.handleUnregister(s)
	}
}

func (r *router) unicast(s *session, t event.Type, data any) {
	raw, err := event.Marshal(t, data)
	if err != nil {
		log.Error().Err(err).Str("event", string(t)).Msg("marshal unicast")
		return
	}
	select {
	case s.send <- raw:
	default:
		log.Warn().Str("session", s.id).Msg("dropping slow session")
		r.handleUnregister(s)
	}
}
