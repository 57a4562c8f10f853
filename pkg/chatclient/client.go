// Package chatclient implements the client side of the chat relay: the
// connection lifecycle state machine, the typing debouncer, and the offline
// fallback that keeps the UI usable when no server is reachable.
package chatclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/talksync/talksync/pkg/event"
	"github.com/talksync/talksync/pkg/msgid"
	"github.com/talksync/talksync/pkg/room"
)

const (
	// DefaultDialTimeout bounds a single websocket handshake attempt.
	DefaultDialTimeout = 3 * time.Second
	// DefaultGrace is the delay after a failed dial before the client gives
	// up on the network and enters offline fallback. It exists to avoid
	// false fallbacks on slow-but-successful connections.
	DefaultGrace = 2 * time.Second
)

var (
	// ErrNotConnected is returned by Send outside of the connected and
	// offline-fallback states.
	ErrNotConnected = errors.New("chatclient: not connected")
	// ErrEmptyMessage is returned by Send when neither text nor image is set.
	ErrEmptyMessage = errors.New("chatclient: message needs text or image")
)

// Config configures a Client.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3001/ws.
	URL string
	// Name is the display name sent with the join handshake.
	Name string

	DialTimeout time.Duration // defaults to DefaultDialTimeout
	Grace       time.Duration // defaults to DefaultGrace
	TypingQuiet time.Duration // defaults to DefaultTypingQuiet
}

// Handler receives everything the client surfaces to its UI. Methods are
// called from the client's read loop and timers; implementations that touch
// shared state must synchronize.
type Handler interface {
	// HandleState is called on every lifecycle state change.
	HandleState(s State)
	// HandleHistory delivers the catch-up snapshot received on join.
	HandleHistory(msgs []event.Message)
	// HandleMessage delivers one new message: the server echo when connected,
	// the local echo in offline fallback. Never both for the same send.
	HandleMessage(msg event.Message)
	// HandlePresence reports a join (joined=true) or leave with the updated
	// online-name list.
	HandlePresence(name string, online []string, joined bool)
	// HandleTyping reports a typing start (active=true) or stop with the
	// updated typing-name list.
	HandleTyping(name string, typing []string, active bool)
}

// Client is one chat participant. Create with New, establish with Connect,
// then use Send and Keystroke; Close tears down the connection and cancels
// pending timers so no event is emitted after teardown.
type Client struct {
	cfg Config
	h   Handler

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	local  *room.Room // set on entering offline fallback
	closed bool

	wmu sync.Mutex // serializes websocket writes

	ids    *msgid.Source
	typing *typingNotifier
}

// New returns a client in StateConnecting. Connect must be called to drive
// it further.
func New(cfg Config, h Handler) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	ids, _ := msgid.New(0)
	c := &Client{
		cfg:   cfg,
		h:     h,
		state: StateConnecting,
		ids:   ids,
	}
	c.typing = newTypingNotifier(cfg.TypingQuiet,
		func() { c.emitTyping(true) },
		func() { c.emitTyping(false) },
	)
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect runs the join sequence: one bounded dial attempt, and on failure
// one more after the grace delay before declaring offline fallback. It
// returns the resulting state; only a canceled context is an error. On
// success the read loop is already running and the join event has been sent.
func (c *Client) Connect(ctx context.Context) (State, error) {
	conn, err := c.dial(ctx)
	if err == nil {
		c.attach(conn)
		return c.State(), nil
	}
	log.Debug().Err(err).Msg("dial failed, entering grace window")
	c.apply(InputDialFailed)

	select {
	case <-ctx.Done():
		return c.State(), ctx.Err()
	case <-time.After(c.cfg.Grace):
	}
	if conn, err = c.dial(ctx); err == nil {
		c.attach(conn)
		return c.State(), nil
	}
	log.Debug().Err(err).Msg("grace elapsed without a connection")
	c.apply(InputGraceElapsed)
	return c.State(), nil
}

// Send routes a message according to the current state: to the server when
// connected, to the local echo in offline fallback. In any other state the
// send fails.
func (c *Client) Send(text, image string) error {
	if text == "" && image == "" {
		return ErrEmptyMessage
	}
	switch c.State() {
	case StateConnected:
		return c.writeEvent(event.TypeMessage, event.Send{Name: c.cfg.Name, Text: text, Image: image})
	case StateOffline:
		c.mu.Lock()
		msg := c.local.Append(event.Message{
			ID:        c.ids.Next(),
			Name:      c.cfg.Name,
			Text:      text,
			Image:     image,
			Timestamp: time.Now().UTC(),
		})
		c.mu.Unlock()
		c.h.HandleMessage(msg)
		return nil
	default:
		return ErrNotConnected
	}
}

// Keystroke records input activity for the typing debouncer. Outside the
// connected state it is a no-op: typing signals never hit the network from
// fallback or after a disconnect.
func (c *Client) Keystroke() {
	if c.State() == StateConnected {
		c.typing.keystroke()
	}
}

// Close tears the client down: cancels the pending stop-typing timer and
// closes the transport with a normal-closure frame. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.typing.close()
	if conn == nil {
		return nil
	}
	c.wmu.Lock()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return conn.Close()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// attach installs the connection, steps the state machine (which emits the
// join), and only then starts the read loop, so a connection that dies
// immediately still reports its loss from the connected state.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.apply(InputDialOK)
	go c.readLoop(conn)
}

// apply feeds a transport signal into the state machine and performs the
// resulting effects. Signals arriving after Close are dropped.
func (c *Client) apply(in Input) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	next, effects := Transition(c.state, in)
	changed := next != c.state
	c.state = next
	c.mu.Unlock()

	for _, eff := range effects {
		c.perform(eff)
	}
	if changed && c.h != nil {
		c.h.HandleState(next)
	}
}

func (c *Client) perform(eff Effect) {
	switch eff {
	case EffectEmitJoin:
		if err := c.writeEvent(event.TypeJoin, event.Join{Name: c.cfg.Name}); err != nil {
			log.Warn().Err(err).Msg("emit join")
		}
	case EffectArmGrace:
		// Interpreted inline by Connect: it waits out the grace delay and
		// retries the dial once before feeding the next signal in.
	case EffectEnterFallback:
		c.mu.Lock()
		c.local = room.New()
		_, online := c.local.Join("local", c.cfg.Name)
		c.mu.Unlock()
		if c.h != nil {
			c.h.HandlePresence(c.cfg.Name, online, true)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		env, err := event.Parse(raw)
		if err != nil || env.Event == "" {
			log.Debug().Msg("dropping unparseable frame")
			continue
		}
		c.dispatch(env)
	}
	c.apply(InputConnLost)
}

func (c *Client) dispatch(env *event.Envelope) {
	switch env.Event {
	case event.TypeMessageHistory:
		var msgs []event.Message
		if env.Decode(&msgs) == nil {
			c.h.HandleHistory(msgs)
		}
	case event.TypeNewMessage:
		var msg event.Message
		if env.Decode(&msg) == nil {
			c.h.HandleMessage(msg)
		}
	case event.TypeUserJoined:
		var p event.Presence
		if env.Decode(&p) == nil {
			c.h.HandlePresence(p.Name, p.OnlineNames, true)
		}
	case event.TypeUserLeft:
		var p event.Presence
		if env.Decode(&p) == nil {
			c.h.HandlePresence(p.Name, p.OnlineNames, false)
		}
	case event.TypeUserTyping:
		var p event.TypingState
		if env.Decode(&p) == nil {
			c.h.HandleTyping(p.Name, p.TypingNames, true)
		}
	case event.TypeUserStopTyping:
		var p event.TypingState
		if env.Decode(&p) == nil {
			c.h.HandleTyping(p.Name, p.TypingNames, false)
		}
	default:
		log.Debug().Str("event", string(env.Event)).Msg("ignoring unknown event")
	}
}

// emitTyping sends a typing or stop-typing signal. Checked against the
// current state at emission time: a debounce timer that outlives the
// connection must not write to a torn-down transport.
func (c *Client) emitTyping(start bool) {
	if c.State() != StateConnected {
		return
	}
	t := event.TypeTyping
	if !start {
		t = event.TypeStopTyping
	}
	if err := c.writeEvent(t, event.TypingSignal{Name: c.cfg.Name}); err != nil {
		log.Debug().Err(err).Msg("emit typing signal")
	}
}

func (c *Client) writeEvent(t event.Type, data any) error {
	raw, err := event.Marshal(t, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return ErrNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, raw)
}
