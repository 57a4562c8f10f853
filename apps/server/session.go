package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/talksync/talksync/pkg/event"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Image payloads ride in the
	// message body as data URIs, so this is well above plain-text needs.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // single ephemeral room, any origin may join
	},
}

// session is the middleman between one websocket connection and the router.
type session struct {
	router *router

	conn *websocket.Conn

	// Buffered channel of outbound frames. Closed by the router on
	// unregister.
	send chan []byte

	// Opaque connection identifier, assigned at upgrade time.
	id string

	// Display name and join status. Written only on the router goroutine
	// once the join frame is processed.
	name   string
	joined bool
}

// readPump pumps frames from the websocket connection to the router.
// One reader goroutine per connection keeps per-session event order FIFO.
func (s *session) readPump() {
	defer func() {
		s.router.unregister <- s
		s.router.untrack(s.conn)
		s.conn.Close()
		s.router.wg.Done()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("session", s.id).Msg("read error")
			}
			return
		}
		env, err := event.Parse(raw)
		if err != nil || env.Event == "" {
			// A malformed frame must not take the room down; drop it.
			log.Debug().Str("session", s.id).Msg("dropping unparseable frame")
			continue
		}
		s.router.inbound <- frame{sess: s, env: env}
	}
}

// writePump pumps frames from the send channel to the websocket connection,
// one websocket message per envelope, and keeps the connection alive with
// pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.router.wg.Done()
	}()
	for {
		select {
		case raw, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The router closed the channel.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWS upgrades an HTTP request and hands the connection to the router.
func serveWS(r *router, w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := &session{
		router: r,
		conn:   conn,
		send:   make(chan []byte, 256),
		id:     uuid.NewString(),
	}
	// Registration completes before the pumps start, so the router sees the
	// session before its first frame.
	r.register <- s
	r.track(conn)

	r.wg.Add(2)
	go s.writePump()
	go s.readPump()
}

func (r *router) track(conn *websocket.Conn) {
	r.connMu.Lock()
	r.conns[conn] = struct{}{}
	r.connMu.Unlock()
}

func (r *router) untrack(conn *websocket.Conn) {
	r.connMu.Lock()
	delete(r.conns, conn)
	r.connMu.Unlock()
}

// closeAll sends a going-away close frame to every live connection. Used
// during shutdown; the resulting read errors drain the sessions through the
// normal unregister path. WriteControl is safe concurrently with the pumps.
func (r *router) closeAll() {
	deadline := time.Now().Add(writeWait)
	r.connMu.Lock()
	conns := make([]*websocket.Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.connMu.Unlock()
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), deadline)
	}
}

// wait blocks until all session pump goroutines have finished.
func (r *router) wait() {
	r.wg.Wait()
}
