//go:build linux

package reactor

import (
	"context"
	"sync"
)

var (
	defaultOnce sync.Once
	defaultLoop *Loop
	defaultErr  error
)

// Default returns the process-wide loop, creating it and starting it on its
// own goroutine on first use. It is never closed.
func Default() (*Loop, error) {
	defaultOnce.Do(func() {
		defaultLoop, defaultErr = New()
		if defaultErr != nil {
			return
		}
		go func() {
			_ = defaultLoop.Run(context.Background())
		}()
	})
	return defaultLoop, defaultErr
}
