//go:build linux

// Package reactor provides a single-threaded event-notification loop.
//
// A Loop waits for readiness on registered file descriptors, expired timers
// and closures posted from other goroutines, and dispatches all of them on the
// goroutine that called Run. Register, Unregister and AfterFunc must only be
// called from that goroutine (typically from inside a handler or a posted
// closure). Post, Stop and Close are safe from any goroutine.
package reactor

import (
	"container/heap"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrClosed is returned when the loop has been closed.
	ErrClosed = errors.New("reactor: loop closed")
	// ErrRunning is returned by Run when the loop is already running.
	ErrRunning = errors.New("reactor: loop already running")
	// ErrAlreadyRegistered is returned when a descriptor is registered twice.
	ErrAlreadyRegistered = errors.New("reactor: descriptor already registered")
	// ErrNotRegistered is returned when unregistering an unknown descriptor.
	ErrNotRegistered = errors.New("reactor: descriptor not registered")
)

// Events describes the readiness reported for a descriptor.
type Events uint32

const (
	// EventRead means data may be available for reading.
	EventRead Events = 1 << iota
	// EventHangup means the peer closed its end.
	EventHangup
	// EventError means an error condition is pending on the descriptor.
	EventError
)

// Has reports whether all bits of other are set.
func (e Events) Has(other Events) bool {
	return e&other == other
}

// Handler is invoked on the loop goroutine when fd becomes ready.
type Handler func(fd int, events Events)

const defaultMaxEvents = 128

// Loop is an epoll based reactor.
type Loop struct {
	epfd      int
	wakefd    int
	maxEvents int
	logger    *slog.Logger

	// owned by the loop goroutine
	handlers map[int]Handler
	timers   timerHeap

	mu       sync.Mutex
	posted   []func()
	closed   bool
	released bool // descriptors closed, numbers may be reused
	running  atomic.Bool
	stopReq  atomic.Bool

	releaseOnce sync.Once
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for loop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMaxEvents bounds how many readiness events are fetched per wait.
func WithMaxEvents(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxEvents = n
		}
	}
}

// New creates a loop. The caller owns it and must Close it.
func New(opts ...Option) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("failed to create wakeup eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("failed to register wakeup eventfd: %w", err)
	}

	l := &Loop{
		epfd:      epfd,
		wakefd:    wakefd,
		maxEvents: defaultMaxEvents,
		logger:    slog.Default(),
		handlers:  make(map[int]Handler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Register adds a level-triggered readable interest for fd.
func (l *Loop) Register(fd int, h Handler) error {
	if l.isClosed() {
		return ErrClosed
	}
	if _, ok := l.handlers[fd]; ok {
		return fmt.Errorf("fd %d: %w", fd, ErrAlreadyRegistered)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("failed to register fd %d: %w", fd, err)
	}

	l.handlers[fd] = h
	l.logger.Debug("reactor_register", "fd", fd, "registered", len(l.handlers))
	return nil
}

// Unregister removes fd from the loop. The descriptor itself is not closed.
func (l *Loop) Unregister(fd int) error {
	if _, ok := l.handlers[fd]; !ok {
		return fmt.Errorf("fd %d: %w", fd, ErrNotRegistered)
	}
	delete(l.handlers, fd)

	l.logger.Debug("reactor_unregister", "fd", fd, "registered", len(l.handlers))

	if l.isClosed() {
		return nil
	}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("failed to unregister fd %d: %w", fd, err)
	}
	return nil
}

// Len returns the number of registered descriptors.
func (l *Loop) Len() int {
	return len(l.handlers)
}

// Post queues fn to run on the loop goroutine.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.posted = append(l.posted, fn)
	l.mu.Unlock()

	l.wake()
	return nil
}

// Stop makes Run return after the current dispatch round.
func (l *Loop) Stop() {
	l.stopReq.Store(true)
	l.wake()
}

// Close stops the loop and releases its descriptors. Handlers still
// registered are abandoned and never invoked again.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.posted = nil
	l.mu.Unlock()

	if l.running.Load() {
		// Run releases the descriptors on its way out.
		l.Stop()
		return nil
	}
	return l.release()
}

// Run dispatches events until ctx is done, Stop or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	if l.isClosed() {
		return ErrClosed
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}

	defer func() {
		l.stopReq.Store(false)
		l.running.Store(false)
		if l.isClosed() {
			_ = l.release()
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-done:
		}
	}()

	events := make([]unix.EpollEvent, l.maxEvents)
	for {
		l.runPosted()
		l.runTimers(time.Now())

		if l.stopReq.Load() || l.isClosed() {
			return ctx.Err()
		}

		n, err := unix.EpollWait(l.epfd, events, l.waitTimeout(time.Now()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll wait failed: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.wakefd {
				l.drainWakeup()
				continue
			}
			h, ok := l.handlers[fd]
			if !ok {
				continue
			}
			h(fd, translate(events[i].Events))
		}
	}
}

// AfterFunc runs fn on the loop goroutine once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{when: time.Now().Add(d), fn: fn, loop: l, index: -1}
	heap.Push(&l.timers, t)
	return t
}

func (l *Loop) runPosted() {
	l.mu.Lock()
	fns := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (l *Loop) runTimers(now time.Time) {
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.when.After(now) {
			return
		}
		heap.Pop(&l.timers)
		t.fn()
	}
}

// waitTimeout returns the epoll timeout in milliseconds for the next timer.
func (l *Loop) waitTimeout(now time.Time) int {
	if len(l.timers) == 0 {
		return -1
	}
	d := l.timers[0].when.Sub(now)
	if d <= 0 {
		return 0
	}
	ms := int((d + time.Millisecond - 1) / time.Millisecond)
	return ms
}

func (l *Loop) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	// EAGAIN means the counter is already non-zero, which is enough.
	_, _ = unix.Write(l.wakefd, buf[:])
}

func (l *Loop) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(l.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) release() error {
	var err error
	l.releaseOnce.Do(func() {
		l.mu.Lock()
		l.released = true
		err = errors.Join(unix.Close(l.wakefd), unix.Close(l.epfd))
		l.mu.Unlock()

		l.handlers = make(map[int]Handler)
		l.timers = nil
	})
	return err
}

func translate(raw uint32) Events {
	var ev Events
	if raw&unix.EPOLLIN != 0 {
		ev |= EventRead
	}
	if raw&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= EventHangup
	}
	if raw&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	return ev
}
