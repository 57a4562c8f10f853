package chatclient

import (
	"sync"
	"time"
)

// DefaultTypingQuiet is the quiet period after the last keystroke before a
// stop-typing signal fires.
const DefaultTypingQuiet = 1000 * time.Millisecond

// typingNotifier coalesces keystroke activity into start/stop signals. The
// first keystroke since the last stop emits start; a single timer,
// rescheduled on every keystroke, emits stop once the quiet period passes
// with no activity. Close cancels the timer and suppresses any late firing,
// so no signal escapes after teardown.
type typingNotifier struct {
	quiet time.Duration
	start func()
	stop  func()

	mu     sync.Mutex
	timer  *time.Timer
	active bool
	closed bool
}

func newTypingNotifier(quiet time.Duration, start, stop func()) *typingNotifier {
	if quiet <= 0 {
		quiet = DefaultTypingQuiet
	}
	return &typingNotifier{quiet: quiet, start: start, stop: stop}
}

// keystroke records input activity. Safe to call at any rate; only the first
// call since the last stop emits the start signal.
func (t *typingNotifier) keystroke() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	emitStart := !t.active
	t.active = true
	if t.timer == nil {
		t.timer = time.AfterFunc(t.quiet, t.fire)
	} else {
		t.timer.Reset(t.quiet)
	}
	t.mu.Unlock()

	if emitStart {
		t.start()
	}
}

func (t *typingNotifier) fire() {
	t.mu.Lock()
	if t.closed || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.mu.Unlock()
	t.stop()
}

// close cancels any pending stop signal. Idempotent.
func (t *typingNotifier) close() {
	t.mu.Lock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
}
