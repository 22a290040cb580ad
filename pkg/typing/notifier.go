// Package typing implements the client-owned debounce for typing signals.
// The server only relays typing state; it never times a sender out, so the
// client must emit the closing isTyping=false itself once the keyboard
// goes quiet.
package typing

import (
	"sync"
	"time"
)

// DefaultIdle is the silence window after the last keystroke before the
// notifier emits isTyping=false.
const DefaultIdle = 2 * time.Second

// Notifier turns a stream of keystrokes into at most one isTyping=true
// per burst, followed by exactly one isTyping=false after the idle window.
type Notifier struct {
	mu     sync.Mutex
	idle   time.Duration
	send   func(isTyping bool)
	timer  *time.Timer
	active bool
}

// NewNotifier creates a notifier that calls send with each state change.
// idle <= 0 uses DefaultIdle.
func NewNotifier(idle time.Duration, send func(isTyping bool)) *Notifier {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Notifier{idle: idle, send: send}
}

// Keystroke registers keyboard activity. The first keystroke of a burst
// emits isTyping=true; every keystroke pushes the idle deadline out.
func (n *Notifier) Keystroke() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active {
		n.active = true
		n.send(true)
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idle, n.expire)
}

func (n *Notifier) expire() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.active {
		return
	}
	n.active = false
	n.timer = nil
	n.send(false)
}

// Stop ends the current burst immediately, emitting isTyping=false if one
// was in progress. Used when the user sends the message or leaves the
// conversation.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if n.active {
		n.active = false
		n.send(false)
	}
}
