//go:build linux

package ssh

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoanbernabeu/nbexec/internal/process"
	"github.com/yoanbernabeu/nbexec/internal/reactor"
	"github.com/yoanbernabeu/nbexec/internal/security"
)

func newTestLoop(t *testing.T) *reactor.Loop {
	t.Helper()

	loop, err := reactor.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		_ = loop.Close()
	})
	return loop
}

// fakeSSH installs an ssh stand-in that echoes its arguments and its stdin.
func fakeSSH(t *testing.T, exitCode string) []string {
	t.Helper()

	dir := t.TempDir()
	script := "#!/bin/sh\necho \"args: $*\"\ncat\nexit " + exitCode + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ssh"), []byte(script), 0755))

	return append(os.Environ(), "PATH="+dir+":"+os.Getenv("PATH"))
}

func TestNewClient_DefaultConnectTimeout(t *testing.T) {
	c := NewClient("example.com", "deploy", "/keys/id")
	assert.Equal(t, 2, c.ConnectTimeout())
}

func TestNewClient_WithConnectTimeout(t *testing.T) {
	c := NewClient("example.com", "deploy", "/keys/id", WithConnectTimeout(7))
	assert.Equal(t, 7, c.ConnectTimeout())

	c = NewClient("example.com", "deploy", "/keys/id", WithConnectTimeout(0))
	assert.Equal(t, 2, c.ConnectTimeout(), "non-positive timeout keeps the default")
}

func TestClient_Options(t *testing.T) {
	c := NewClient("example.com", "deploy", "/keys/id", WithConnectTimeout(5))
	assert.Equal(t, []string{
		"UserKnownHostsFile /dev/null",
		"StrictHostKeyChecking no",
		"PreferredAuthentications publickey",
		"LogLevel quiet",
		"ConnectTimeout 5",
	}, c.Options())
}

func TestClient_Command(t *testing.T) {
	c := NewClient("10.0.0.5", "deploy", "/home/deploy/.ssh/id_ed25519")

	want := `ssh -o "UserKnownHostsFile /dev/null" -o "StrictHostKeyChecking no" ` +
		`-o "PreferredAuthentications publickey" -o "LogLevel quiet" -o "ConnectTimeout 2" ` +
		`-q -T -i "/home/deploy/.ssh/id_ed25519" deploy@10.0.0.5 <<EOF` + "\n" +
		"uptime\n" +
		"EOF\n"

	assert.Equal(t, want, c.Command("uptime"))
}

func TestClient_CommandMultiline(t *testing.T) {
	c := NewClient("h", "u", "/k")
	got := c.Command("cd /tmp\nls")
	assert.True(t, strings.HasSuffix(got, "<<EOF\ncd /tmp\nls\nEOF\n"), got)
}

func TestClient_Target(t *testing.T) {
	c := NewClient("example.com", "root", "/k")
	assert.Equal(t, "root@example.com", c.Target())
}

func TestClient_Validate(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		user    string
		key     string
		wantErr bool
	}{
		{"valid", "example.com", "deploy", "/keys/id", false},
		{"bad host", "host;id", "deploy", "/keys/id", true},
		{"option injection host", "-oProxyCommand=id", "deploy", "/keys/id", true},
		{"uppercase user", "example.com", "Administrator", "/keys/id", false},
		{"dotted user", "example.com", "first.last", "/keys/id", false},
		{"bad user", "example.com", "root;id", "/keys/id", true},
		{"option injection user", "example.com", "-oProxyCommand=id", "/keys/id", true},
		{"empty key", "example.com", "deploy", "", true},
		{"quoted key", "example.com", "deploy", `/keys/"x`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewClient(tt.host, tt.user, tt.key).Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_ValidateKeyCheck(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "id_missing")
	c := NewClient("example.com", "deploy", missing, WithKeyCheck(true))
	assert.Error(t, c.Validate())

	c = NewClient("example.com", "deploy", missing)
	assert.NoError(t, c.Validate(), "key file is not read without key check")
}

func TestClient_RunRejectsSentinel(t *testing.T) {
	c := NewClient("example.com", "deploy", "/keys/id", WithLoop(newTestLoop(t)))

	_, err := c.Run("echo a\nEOF\nrm -rf /")
	require.Error(t, err)
	assert.True(t, errors.Is(err, security.ErrSentinelInBody))
}

func TestClient_RunRejectsInvalidHost(t *testing.T) {
	c := NewClient("bad host", "deploy", "/keys/id", WithLoop(newTestLoop(t)))

	ch, err := c.Run("uptime")
	assert.Error(t, err)
	assert.Nil(t, ch)
}

func TestClient_RunReturnsLocalResult(t *testing.T) {
	env := fakeSSH(t, "3")
	c := NewClient("example.com", "deploy", "/keys/id",
		WithLoop(newTestLoop(t)),
		WithRunnerOptions(process.WithEnv(env)),
	)

	ch, err := c.Run("uptime")
	require.NoError(t, err)

	var res process.Result
	select {
	case res = <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	out := res.Text()
	assert.Contains(t, out, "-q -T -i /keys/id deploy@example.com")
	assert.Contains(t, out, "ConnectTimeout 2")
	assert.Contains(t, out, "uptime")
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Succeeded)
	assert.Equal(t, "command returned 3", res.Reason)
	assert.Equal(t, c.Command("uptime"), res.Command)
}

func TestClient_Exec(t *testing.T) {
	env := fakeSSH(t, "0")
	c := NewClient("example.com", "deploy", "/keys/id",
		WithLoop(newTestLoop(t)),
		WithRunnerOptions(process.WithEnv(env)),
	)

	res, err := c.Exec(context.Background(), "hostname")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Succeeded)
	assert.Contains(t, res.Text(), "hostname")
	assert.NoError(t, c.Close())
}

func TestMockExecutor(t *testing.T) {
	m := &MockExecutor{}

	res, err := m.Exec(context.Background(), "uptime")
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, []string{"uptime"}, m.Commands)

	m.ExecFunc = func(_ context.Context, command string) (*process.Result, error) {
		return nil, errors.New("boom")
	}
	_, err = m.Exec(context.Background(), "df -h")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"uptime", "df -h"}, m.Commands)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed)
}
