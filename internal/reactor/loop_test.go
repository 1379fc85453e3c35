//go:build linux

package reactor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// startLoop runs a fresh loop on its own goroutine for the test duration.
func startLoop(t *testing.T) *Loop {
	t.Helper()

	l, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("loop did not stop")
		}
		_ = l.Close()
	})
	return l
}

// onLoop runs fn on the loop goroutine and waits for it.
func onLoop(t *testing.T, l *Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, l.Post(func() {
		fn()
		close(done)
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("posted closure did not run")
	}
}

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPost_RunsOnLoop(t *testing.T) {
	l := startLoop(t)

	ran := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, l.Post(func() { ran <- i }))
	}

	for want := 0; want < 3; want++ {
		select {
		case got := <-ran:
			assert.Equal(t, want, got, "posted closures must run in order")
		case <-time.After(5 * time.Second):
			t.Fatal("posted closure did not run")
		}
	}
}

func TestRegister_ReadableEvent(t *testing.T) {
	l := startLoop(t)
	r, w := newPipe(t)

	got := make(chan Events, 1)
	onLoop(t, l, func() {
		err := l.Register(r, func(fd int, ev Events) {
			assert.Equal(t, r, fd)
			buf := make([]byte, 16)
			_, _ = unix.Read(fd, buf)
			_ = l.Unregister(fd)
			got <- ev
		})
		require.NoError(t, err)
	})

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.True(t, ev.Has(EventRead))
	case <-time.After(5 * time.Second):
		t.Fatal("no readiness event")
	}

	onLoop(t, l, func() { assert.Equal(t, 0, l.Len()) })
}

func TestRegister_HangupEvent(t *testing.T) {
	l := startLoop(t)
	r, w := newPipe(t)

	got := make(chan Events, 1)
	onLoop(t, l, func() {
		require.NoError(t, l.Register(r, func(fd int, ev Events) {
			_ = l.Unregister(fd)
			got <- ev
		}))
	})

	require.NoError(t, unix.Close(w))

	select {
	case ev := <-got:
		assert.True(t, ev.Has(EventHangup))
	case <-time.After(5 * time.Second):
		t.Fatal("no hangup event")
	}
}

func TestRegister_Twice(t *testing.T) {
	l := startLoop(t)
	r, _ := newPipe(t)

	onLoop(t, l, func() {
		require.NoError(t, l.Register(r, func(int, Events) {}))
		err := l.Register(r, func(int, Events) {})
		assert.True(t, errors.Is(err, ErrAlreadyRegistered))
		require.NoError(t, l.Unregister(r))
	})
}

func TestUnregister_Unknown(t *testing.T) {
	l := startLoop(t)

	onLoop(t, l, func() {
		err := l.Unregister(12345)
		assert.True(t, errors.Is(err, ErrNotRegistered))
	})
}

func TestAfterFunc_Order(t *testing.T) {
	l := startLoop(t)

	fired := make(chan string, 3)
	onLoop(t, l, func() {
		l.AfterFunc(30*time.Millisecond, func() { fired <- "late" })
		l.AfterFunc(5*time.Millisecond, func() { fired <- "early" })
		stopped := l.AfterFunc(10*time.Millisecond, func() { fired <- "stopped" })
		assert.True(t, stopped.Stop())
		assert.False(t, stopped.Stop())
	})

	var order []string
	for len(order) < 2 {
		select {
		case name := <-fired:
			order = append(order, name)
		case <-time.After(5 * time.Second):
			t.Fatal("timers did not fire")
		}
	}
	assert.Equal(t, []string{"early", "late"}, order)
}

func TestRun_StopsOnContext(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_AlreadyRunning(t *testing.T) {
	l := startLoop(t)

	onLoop(t, l, func() {
		assert.ErrorIs(t, l.Run(context.Background()), ErrRunning)
	})
}

func TestClose_RejectsPost(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Post(func() {}), ErrClosed)
	assert.ErrorIs(t, l.Run(context.Background()), ErrClosed)
}

func TestClose_StopDoesNotWriteReusedFd(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	oldWakefd := l.wakefd
	require.NoError(t, l.Close())

	// The lowest free numbers are handed out again, usually the old wakefd.
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])
	t.Logf("old wakefd %d, pipe %v", oldWakefd, p)

	l.Stop()

	var buf [8]byte
	n, err := unix.Read(p[0], buf[:])
	assert.ErrorIs(t, err, unix.EAGAIN)
	assert.LessOrEqual(t, n, 0)
}

func TestRun_CloseWhileRunningThenStop(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, l.running.Load, time.Second, time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	assert.True(t, released)

	// Both paths must be no-ops once the descriptors are gone.
	cancel()
	l.Stop()
}

func TestDefault_Singleton(t *testing.T) {
	a, err := Default()
	require.NoError(t, err)
	b, err := Default()
	require.NoError(t, err)
	assert.Same(t, a, b)

	ran := make(chan struct{})
	require.NoError(t, a.Post(func() { close(ran) }))
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("default loop is not running")
	}
}

func TestEvents_Has(t *testing.T) {
	ev := EventRead | EventHangup
	assert.True(t, ev.Has(EventRead))
	assert.True(t, ev.Has(EventRead|EventHangup))
	assert.False(t, ev.Has(EventError))
}
