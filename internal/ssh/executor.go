package ssh

import (
	"context"

	"github.com/yoanbernabeu/nbexec/internal/process"
)

// Executor abstracts remote command execution for testability.
type Executor interface {
	Exec(ctx context.Context, command string) (*process.Result, error)
	Close() error
}
