package chatclient

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRapidKeystrokesEmitOneStop(t *testing.T) {
	var starts, stops atomic.Int32
	n := newTypingNotifier(50*time.Millisecond,
		func() { starts.Add(1) },
		func() { stops.Add(1) },
	)
	defer n.close()

	// Keystrokes well inside the quiet period: one start, no stop yet.
	for i := 0; i < 5; i++ {
		n.keystroke()
		time.Sleep(10 * time.Millisecond)
	}
	assert.EqualValues(t, 1, starts.Load(), "only the first keystroke starts")
	assert.EqualValues(t, 0, stops.Load(), "no stop while still typing")

	// Quiet period passes: exactly one stop, measured from the last keystroke.
	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 1, stops.Load())

	// The next keystroke starts a new cycle.
	n.keystroke()
	assert.EqualValues(t, 2, starts.Load())
	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 2, stops.Load())
}

func TestCloseSuppressesPendingStop(t *testing.T) {
	var starts, stops atomic.Int32
	n := newTypingNotifier(30*time.Millisecond,
		func() { starts.Add(1) },
		func() { stops.Add(1) },
	)

	n.keystroke()
	n.close()

	time.Sleep(120 * time.Millisecond)
	assert.EqualValues(t, 1, starts.Load())
	assert.EqualValues(t, 0, stops.Load(), "no signal may escape after teardown")

	// Keystrokes after close are dropped entirely.
	n.keystroke()
	time.Sleep(120 * time.Millisecond)
	assert.EqualValues(t, 1, starts.Load())
	assert.EqualValues(t, 0, stops.Load())
}
