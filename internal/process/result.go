package process

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSpawn matches every *SpawnError via errors.Is.
	ErrSpawn = errors.New("spawn failed")
	// ErrEmptyCommand is wrapped by the SpawnError returned for a blank command.
	ErrEmptyCommand = errors.New("command is empty")
	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("runner already started")
	// ErrNotStarted is returned by operations that need a running child.
	ErrNotStarted = errors.New("runner not started")
	// ErrLoopClosed is returned when the event loop no longer accepts work.
	ErrLoopClosed = errors.New("event loop closed")
)

// SpawnError reports that the child process could not be created.
type SpawnError struct {
	Command string
	Shell   string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q via %s: %v", e.Command, e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSpawn) true for any SpawnError.
func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawn
}

// Result summarizes one completed command execution. It is produced exactly
// once per run and never modified afterwards.
type Result struct {
	Command   string
	Output    []byte
	StartedAt time.Time
	EndedAt   time.Time
	ExitCode  int
	Succeeded bool
	PID       int
	Reason    string

	// Signal names the signal that terminated the child, if any.
	Signal string
	// Canceled is set when the run was killed because its context ended.
	Canceled bool
	// ReadErr records an unexpected error that ended output collection early.
	ReadErr error
}

// Text returns the accumulated output as a string.
func (r Result) Text() string {
	return string(r.Output)
}

// Duration returns the wall time between spawn and completion.
func (r Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

func (r Result) String() string {
	return fmt.Sprintf("pid %d: %s (%s, %d bytes)", r.PID, r.Reason, r.Duration().Round(time.Millisecond), len(r.Output))
}

// Response is the flat wire form of a Result.
type Response struct {
	Cmd        string  `json:"cmd"`
	Data       string  `json:"data"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	ReturnCode int     `json:"returncode"`
	Success    bool    `json:"success"`
	PID        int     `json:"pid"`
	Reason     string  `json:"reason"`
}

// Response converts the result to its wire form. Timestamps are seconds
// since the Unix epoch.
func (r Result) Response() Response {
	return Response{
		Cmd:        r.Command,
		Data:       string(r.Output),
		StartTime:  unixSeconds(r.StartedAt),
		EndTime:    unixSeconds(r.EndedAt),
		ReturnCode: r.ExitCode,
		Success:    r.Succeeded,
		PID:        r.PID,
		Reason:     r.Reason,
	}
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
