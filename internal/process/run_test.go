//go:build linux

package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Completes(t *testing.T) {
	loop := newTestLoop(t)

	res, err := Run(context.Background(), loop, "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Text())
	assert.False(t, res.Canceled)
}

func TestRun_SpawnErrorIsSynchronous(t *testing.T) {
	loop := newTestLoop(t)

	_, err := Run(context.Background(), loop, "true", WithShell("/nonexistent/shell"))
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestRun_TimeoutKillsChild(t *testing.T) {
	loop := newTestLoop(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	begin := time.Now()
	res, err := Run(ctx, loop, "echo started; sleep 5; echo never")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 3*time.Second)
	assert.True(t, res.Canceled)
	assert.False(t, res.Succeeded)
	assert.Equal(t, -9, res.ExitCode)
	assert.Equal(t, "killed", res.Signal)
	assert.Contains(t, res.Reason, "command canceled")
	assert.Equal(t, "started\n", res.Text())
}

func TestWait_NotStarted(t *testing.T) {
	loop := newTestLoop(t)

	_, err := New(loop, "true").Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestWait_AfterCompletion(t *testing.T) {
	loop := newTestLoop(t)

	r, ch := start(t, loop, "exit 3")
	first := waitResult(t, ch)

	second, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.PID, second.PID)
	assert.Equal(t, 3, second.ExitCode)

	got, ok := r.Result()
	assert.True(t, ok)
	assert.Equal(t, first.Reason, got.Reason)
}

func TestRunner_SignalTerminates(t *testing.T) {
	loop := newTestLoop(t)

	r, ch := start(t, loop, "sleep 5")
	require.NoError(t, r.Kill())

	res := waitResult(t, ch)
	assert.Equal(t, -9, res.ExitCode)
	assert.Equal(t, "command returned -9", res.Reason)
	assert.False(t, res.Succeeded)
}
