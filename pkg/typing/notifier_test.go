package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectNotifier(idle time.Duration) (*Notifier, chan bool) {
	emitted := make(chan bool, 16)
	n := NewNotifier(idle, func(isTyping bool) { emitted <- isTyping })
	return n, emitted
}

func recv(t *testing.T, ch chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no emission")
		return false
	}
}

func assertQuiet(t *testing.T, ch chan bool, d time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected emission %v", v)
	case <-time.After(d):
	}
}

func TestBurstEmitsOnePair(t *testing.T) {
	n, emitted := collectNotifier(30 * time.Millisecond)

	n.Keystroke()
	assert.True(t, recv(t, emitted), "first keystroke opens the burst")

	// further keystrokes inside the window stay silent
	n.Keystroke()
	n.Keystroke()
	assertQuiet(t, emitted, 10*time.Millisecond)

	assert.False(t, recv(t, emitted), "idle window closes the burst")
	assertQuiet(t, emitted, 60*time.Millisecond)
}

func TestKeystrokeExtendsIdleWindow(t *testing.T) {
	n, emitted := collectNotifier(60 * time.Millisecond)

	n.Keystroke()
	require.True(t, recv(t, emitted))

	// keep typing faster than the window; no false may fire in between
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		n.Keystroke()
	}
	assertQuiet(t, emitted, 20*time.Millisecond)

	assert.False(t, recv(t, emitted))
}

func TestStopClosesBurstImmediately(t *testing.T) {
	n, emitted := collectNotifier(time.Minute)

	n.Keystroke()
	require.True(t, recv(t, emitted))

	n.Stop()
	assert.False(t, recv(t, emitted))

	// stopping again is a no-op
	n.Stop()
	assertQuiet(t, emitted, 20*time.Millisecond)
}

func TestStopWithoutBurstIsNoop(t *testing.T) {
	n, emitted := collectNotifier(time.Minute)
	n.Stop()
	assertQuiet(t, emitted, 20*time.Millisecond)

	// notifier still usable afterwards
	n.Keystroke()
	assert.True(t, recv(t, emitted))
}

func TestNewBurstAfterExpiry(t *testing.T) {
	n, emitted := collectNotifier(20 * time.Millisecond)

	n.Keystroke()
	require.True(t, recv(t, emitted))
	require.False(t, recv(t, emitted))

	n.Keystroke()
	assert.True(t, recv(t, emitted), "a fresh burst re-announces typing")
}
