package ssh

import (
	"context"
	"time"

	"github.com/yoanbernabeu/nbexec/internal/process"
)

// MockExecutor is a test double that records commands and returns configured results.
type MockExecutor struct {
	ExecFunc func(ctx context.Context, command string) (*process.Result, error)
	Commands []string
	Closed   bool
}

// Exec records the command and delegates to ExecFunc.
func (m *MockExecutor) Exec(ctx context.Context, command string) (*process.Result, error) {
	m.Commands = append(m.Commands, command)
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, command)
	}
	now := time.Now()
	return &process.Result{
		Command:   command,
		StartedAt: now,
		EndedAt:   now,
		Succeeded: true,
		Reason:    "command returned 0",
	}, nil
}

// Close marks the mock as closed.
func (m *MockExecutor) Close() error {
	m.Closed = true
	return nil
}
