package chatclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talksync/talksync/pkg/event"
)

type presenceRec struct {
	name   string
	online []string
	joined bool
}

// recorder collects everything the client surfaces to its handler.
type recorder struct {
	mu        sync.Mutex
	states    []State
	history   [][]event.Message
	messages  []event.Message
	presences []presenceRec
}

func (r *recorder) HandleState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) HandleHistory(msgs []event.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, msgs)
}

func (r *recorder) HandleMessage(msg event.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) HandlePresence(name string, online []string, joined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presences = append(r.presences, presenceRec{name: name, online: append([]string(nil), online...), joined: joined})
}

func (r *recorder) HandleTyping(name string, typing []string, active bool) {}

// waitFor polls until cond holds under the recorder lock or the deadline
// passes.
func (r *recorder) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		ok := cond()
		r.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// stubRelay is a minimal in-test relay speaking the wire protocol.
func stubRelay(signals chan event.Type) http.HandlerFunc {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		reply := func(t event.Type, data any) {
			raw, _ := event.Marshal(t, data)
			_ = conn.WriteMessage(websocket.TextMessage, raw)
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := event.Parse(raw)
			if err != nil {
				continue
			}
			switch env.Event {
			case event.TypeJoin:
				var p event.Join
				_ = env.Decode(&p)
				reply(event.TypeMessageHistory, []event.Message{
					{ID: "1", Name: "bob", Text: "welcome", Timestamp: time.Now().UTC()},
				})
				reply(event.TypeUserJoined, event.Presence{Name: p.Name, OnlineNames: []string{"bob", p.Name}})
			case event.TypeMessage:
				var p event.Send
				_ = env.Decode(&p)
				reply(event.TypeNewMessage, event.Message{ID: "2", Name: p.Name, Text: p.Text, Image: p.Image, Timestamp: time.Now().UTC()})
			case event.TypeTyping, event.TypeStopTyping:
				if signals != nil {
					signals <- env.Event
				}
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectedFlow(t *testing.T) {
	signals := make(chan event.Type, 8)
	srv := httptest.NewServer(stubRelay(signals))
	defer srv.Close()

	rec := &recorder{}
	c := New(Config{URL: wsURL(srv), Name: "alice", TypingQuiet: 50 * time.Millisecond}, rec)
	defer c.Close()

	state, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)

	rec.waitFor(t, "history", func() bool { return len(rec.history) == 1 })
	rec.waitFor(t, "join broadcast", func() bool { return len(rec.presences) == 1 })
	rec.mu.Lock()
	assert.Equal(t, "welcome", rec.history[0][0].Text)
	assert.Equal(t, presenceRec{name: "alice", online: []string{"bob", "alice"}, joined: true}, rec.presences[0])
	rec.mu.Unlock()

	// Connected sends render from the server echo, not local state.
	require.NoError(t, c.Send("hi", ""))
	rec.waitFor(t, "message echo", func() bool { return len(rec.messages) == 1 })
	rec.mu.Lock()
	assert.Equal(t, "alice", rec.messages[0].Name)
	assert.Equal(t, "hi", rec.messages[0].Text)
	assert.NotEmpty(t, rec.messages[0].ID)
	rec.mu.Unlock()

	// A burst of keystrokes produces one typing signal and, after the quiet
	// period, exactly one stop.
	for i := 0; i < 5; i++ {
		c.Keystroke()
	}
	assert.Equal(t, event.TypeTyping, <-signals)
	assert.Equal(t, event.TypeStopTyping, <-signals)
	select {
	case sig := <-signals:
		t.Fatalf("unexpected extra signal %q", sig)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestOfflineFallback(t *testing.T) {
	rec := &recorder{}
	// Nothing listens here; the dial fails fast and the grace window runs out.
	c := New(Config{
		URL:         "ws://127.0.0.1:1/ws",
		Name:        "alice",
		DialTimeout: 200 * time.Millisecond,
		Grace:       50 * time.Millisecond,
	}, rec)
	defer c.Close()

	state, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateOffline, state)

	// The client self-registers as the sole online user.
	rec.mu.Lock()
	require.Len(t, rec.presences, 1)
	assert.Equal(t, presenceRec{name: "alice", online: []string{"alice"}, joined: true}, rec.presences[0])
	rec.mu.Unlock()

	// Sends append to the local echo, synchronously and without a network.
	require.NoError(t, c.Send("anyone there?", ""))
	rec.mu.Lock()
	require.Len(t, rec.messages, 1)
	assert.Equal(t, "alice", rec.messages[0].Name)
	assert.Equal(t, "anyone there?", rec.messages[0].Text)
	assert.NotEmpty(t, rec.messages[0].ID)
	rec.mu.Unlock()

	// Keystrokes in fallback never produce typing traffic; nothing to assert
	// on the wire, but they must not panic or arm a timer that outlives us.
	c.Keystroke()

	assert.ErrorIs(t, c.Send("", ""), ErrEmptyMessage)
}

func TestServerDropMovesToDisconnected(t *testing.T) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Accept the join, then drop the connection.
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	rec := &recorder{}
	c := New(Config{URL: wsURL(srv), Name: "alice"}, rec)
	defer c.Close()

	state, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)

	rec.waitFor(t, "disconnect", func() bool {
		return len(rec.states) > 0 && rec.states[len(rec.states)-1] == StateDisconnected
	})
	assert.Equal(t, StateDisconnected, c.State())

	// Lost connection is not fallback: sends fail instead of echoing locally.
	assert.ErrorIs(t, c.Send("hello?", ""), ErrNotConnected)
}
