//go:build linux

// Package process runs shell commands without blocking the event loop that
// collects their output.
package process

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yoanbernabeu/nbexec/internal/constants"
	"github.com/yoanbernabeu/nbexec/internal/reactor"
	"github.com/yoanbernabeu/nbexec/internal/security"
)

// maxReadsPerEvent bounds one readiness dispatch so a chatty child cannot
// starve other descriptors. Level triggering brings us back for the rest.
const maxReadsPerEvent = 64

// Runner executes exactly one command. It is not reusable.
type Runner struct {
	loop     *reactor.Loop
	command  string
	shell    string
	dir      string
	env      []string
	readSize int
	onOutput OutputFunc
	observer Observer
	logger   *slog.Logger

	started atomic.Bool

	// set by Start before the loop sees the runner
	proc      *os.Process
	pid       int
	fd        int
	startedAt time.Time
	results   chan Result
	done      chan struct{}

	// owned by the loop goroutine
	buf        bytes.Buffer
	scratch    []byte
	registered bool
	pidfd      int
	exited     bool
	status     unix.WaitStatus
	waitErr    error
	readErr    error
	pollDelay  time.Duration
	completed  bool
	final      Result

	// set when the kill came from a canceled context
	cancelCause error
}

// Option configures a Runner.
type Option func(*Runner)

// WithShell sets the shell used as "<shell> -c <command>".
func WithShell(shell string) Option {
	return func(r *Runner) {
		if shell != "" {
			r.shell = shell
		}
	}
}

// WithReadSize sets the size of a single non-blocking read.
func WithReadSize(n int) Option {
	return func(r *Runner) {
		if n > 0 && n <= constants.MaxReadSize {
			r.readSize = n
		}
	}
}

// WithOutputHandler observes output incrementally, before completion.
func WithOutputHandler(fn OutputFunc) Option {
	return func(r *Runner) {
		r.onOutput = fn
	}
}

// WithObserver attaches lifecycle notifications, e.g. metrics.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDir sets the working directory of the child.
func WithDir(dir string) Option {
	return func(r *Runner) {
		r.dir = dir
	}
}

// WithEnv sets the environment of the child. Nil inherits ours.
func WithEnv(env []string) Option {
	return func(r *Runner) {
		r.env = env
	}
}

// New creates a runner for command on loop. Nothing is spawned until Start.
func New(loop *reactor.Loop, command string, opts ...Option) *Runner {
	r := &Runner{
		loop:     loop,
		command:  command,
		shell:    constants.DefaultShell,
		readSize: constants.DefaultReadSize,
		observer: nopObserver{},
		logger:   slog.Default(),
		fd:       -1,
		pidfd:    -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Command returns the literal command string.
func (r *Runner) Command() string {
	return r.command
}

// PID returns the child's process id, or 0 before a successful Start.
func (r *Runner) PID() int {
	return r.pid
}

// Start spawns the child and hands its output stream to the event loop. The
// returned channel yields exactly one Result and is then closed. A spawn
// failure is returned immediately as a *SpawnError and nothing is registered.
func (r *Runner) Start() (<-chan Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	if strings.TrimSpace(r.command) == "" {
		return nil, r.spawnFailed(ErrEmptyCommand)
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, r.spawnFailed(fmt.Errorf("failed to create output pipe: %w", err))
	}
	rfd, wfd := fds[0], fds[1]

	w := os.NewFile(uintptr(wfd), "nbexec-output")
	cmd := exec.Command(r.shell, "-c", r.command)
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.Dir = r.dir
	cmd.Env = r.env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	r.startedAt = time.Now()
	err := cmd.Start()
	// The child holds its own copy; ours would keep the stream open forever.
	_ = w.Close()
	if err != nil {
		_ = unix.Close(rfd)
		return nil, r.spawnFailed(err)
	}

	r.proc = cmd.Process
	r.pid = cmd.Process.Pid
	r.fd = rfd

	if err := unix.SetNonblock(rfd, true); err != nil {
		r.abandon()
		return nil, r.spawnFailed(fmt.Errorf("failed to set output non-blocking: %w", err))
	}

	r.results = make(chan Result, 1)
	r.done = make(chan struct{})

	if err := r.loop.Post(r.register); err != nil {
		r.abandon()
		return nil, fmt.Errorf("%w: %w", ErrLoopClosed, err)
	}

	r.logger.Debug("process_started",
		"pid", r.pid,
		"command", security.SanitizeCommandForLog(r.command),
	)

	return r.results, nil
}

// Done is closed once the Result has been produced.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Result returns the final result once Done is closed.
func (r *Runner) Result() (Result, bool) {
	if r.done == nil {
		return Result{}, false
	}
	select {
	case <-r.done:
		return r.final, true
	default:
		return Result{}, false
	}
}

// Kill sends SIGKILL to the child's process group. Completion then follows
// the normal path and the Result reports the signal.
func (r *Runner) Kill() error {
	return r.signal(unix.SIGKILL, nil)
}

// Signal delivers sig to the child's process group from the loop goroutine.
func (r *Runner) Signal(sig unix.Signal) error {
	return r.signal(sig, nil)
}

// cancel kills the child and marks the Result canceled with cause, unless
// the child has already exited on its own.
func (r *Runner) cancel(cause error) error {
	return r.signal(unix.SIGKILL, cause)
}

func (r *Runner) signal(sig unix.Signal, cause error) error {
	if r.done == nil {
		return ErrNotStarted
	}
	err := r.loop.Post(func() {
		if r.completed || r.exited {
			return
		}
		if cause != nil {
			r.cancelCause = cause
		}
		if err := unix.Kill(-r.pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			r.logger.Warn("process_signal_failed", "pid", r.pid, "signal", sig.String(), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoopClosed, err)
	}
	return nil
}

func (r *Runner) spawnFailed(err error) error {
	spawnErr := &SpawnError{Command: r.command, Shell: r.shell, Err: err}
	r.observer.SpawnFailed(r.command, spawnErr)
	r.logger.Warn("process_spawn_failed",
		"command", security.SanitizeCommandForLog(r.command),
		"error", err,
	)
	return spawnErr
}

// abandon kills and reaps a child that never reached the loop.
func (r *Runner) abandon() {
	_ = unix.Kill(-r.pid, unix.SIGKILL)
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(r.pid, &ws, 0, nil)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	_ = unix.Close(r.fd)
	_ = r.proc.Release()
}

// register runs on the loop goroutine.
func (r *Runner) register() {
	r.scratch = make([]byte, r.readSize)
	r.observer.RunStarted(r.command)

	if err := r.loop.Register(r.fd, r.onReady); err != nil {
		r.logger.Warn("process_register_failed", "pid", r.pid, "error", err)
		r.readErr = err
		r.schedulePoll()
		return
	}
	r.registered = true

	r.watchExit()
}

// watchExit adds a pidfd so exit wakes the loop even when a grandchild keeps
// the output stream open. Kernels without pidfd rely on the stream alone.
func (r *Runner) watchExit() {
	pidfd, err := unix.PidfdOpen(r.pid, 0)
	if err != nil {
		return
	}
	if err := r.loop.Register(pidfd, r.onReady); err != nil {
		_ = unix.Close(pidfd)
		return
	}
	r.pidfd = pidfd
}

// onReady handles readiness of either the output stream or the pidfd.
func (r *Runner) onReady(_ int, _ reactor.Events) {
	r.step()
}

func (r *Runner) step() {
	if r.completed {
		return
	}

	eof := false
	if r.registered {
		eof = r.drain(maxReadsPerEvent)
	}

	if !r.pollExit() {
		if eof {
			// The stream is closed but the child is not reaped yet. Stop
			// watching the stream so its hangup does not spin the loop.
			r.unregisterOutput()
			if r.pidfd < 0 {
				r.schedulePoll()
			}
		}
		return
	}

	r.finish()
}

// drain reads until would-block or end of stream, at most limit reads when
// limit > 0. It reports whether end of stream was reached.
func (r *Runner) drain(limit int) bool {
	for reads := 0; limit <= 0 || reads < limit; reads++ {
		n, err := unix.Read(r.fd, r.scratch)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				return false
			default:
				r.readErr = err
				r.logger.Warn("process_read_failed", "pid", r.pid, "error", err)
				return true
			}
		}
		if n == 0 {
			return true
		}
		r.appendOutput(r.scratch[:n])
	}
	return false
}

func (r *Runner) appendOutput(chunk []byte) {
	r.buf.Write(chunk)
	r.observer.RunOutput(len(chunk))
	if r.onOutput != nil {
		r.onOutput(append([]byte(nil), chunk...))
	}
}

// pollExit reaps the child if it has exited, without blocking.
func (r *Runner) pollExit() bool {
	if r.exited {
		return true
	}
	for {
		pid, err := unix.Wait4(r.pid, &r.status, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			// Reaped elsewhere; the exit code is lost.
			r.waitErr = err
			r.exited = true
			return true
		}
		if pid == 0 {
			return false
		}
		r.exited = true
		return true
	}
}

func (r *Runner) schedulePoll() {
	switch {
	case r.pollDelay == 0:
		r.pollDelay = constants.ExitPollInitialDelay
	case r.pollDelay < constants.ExitPollMaxDelay:
		r.pollDelay = min(2*r.pollDelay, constants.ExitPollMaxDelay)
	}
	r.loop.AfterFunc(r.pollDelay, func() {
		if r.completed {
			return
		}
		if r.pollExit() {
			r.finish()
			return
		}
		r.schedulePoll()
	})
}

func (r *Runner) unregisterOutput() {
	if !r.registered {
		return
	}
	r.registered = false
	if err := r.loop.Unregister(r.fd); err != nil {
		r.logger.Debug("process_unregister_failed", "pid", r.pid, "error", err)
	}
}

// finish runs once the child has been reaped.
func (r *Runner) finish() {
	// Output written between the last readiness event and exit is still
	// buffered in the pipe.
	r.drain(0)
	r.unregisterOutput()

	if r.pidfd >= 0 {
		_ = r.loop.Unregister(r.pidfd)
		_ = unix.Close(r.pidfd)
		r.pidfd = -1
	}
	_ = unix.Close(r.fd)
	_ = r.proc.Release()

	r.completed = true
	res := r.buildResult(time.Now())
	r.final = res

	r.logger.Debug("process_finished",
		"pid", res.PID,
		"exit_code", res.ExitCode,
		"bytes", len(res.Output),
		"duration", res.Duration(),
	)
	r.observer.RunFinished(res)

	close(r.done)
	r.results <- res
	close(r.results)
}

func (r *Runner) buildResult(endedAt time.Time) Result {
	code, signal := -1, ""
	switch {
	case r.waitErr != nil:
	case r.status.Exited():
		code = r.status.ExitStatus()
	case r.status.Signaled():
		code = -int(r.status.Signal())
		signal = r.status.Signal().String()
	}

	res := Result{
		Command:   r.command,
		Output:    r.buf.Bytes(),
		StartedAt: r.startedAt,
		EndedAt:   endedAt,
		ExitCode:  code,
		Succeeded: code == 0,
		PID:       r.pid,
		Reason:    constants.ReasonText(code),
		Signal:    signal,
		ReadErr:   errors.Join(r.readErr, r.waitErr),
	}
	if r.cancelCause != nil && signal != "" {
		res.Canceled = true
		res.Succeeded = false
		res.Reason = "command canceled: " + r.cancelCause.Error()
	}
	return res
}
