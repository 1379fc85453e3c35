//go:build linux

package ssh

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yoanbernabeu/nbexec/internal/constants"
	"github.com/yoanbernabeu/nbexec/internal/process"
	"github.com/yoanbernabeu/nbexec/internal/reactor"
	"github.com/yoanbernabeu/nbexec/internal/security"
)

// DefaultConnectTimeout is the ConnectTimeout passed to ssh, in seconds.
const DefaultConnectTimeout = constants.DefaultConnectTimeout

// Client runs commands on a remote host through the ssh binary. Each call
// spawns one ssh process; there is no pooling and no retry.
type Client struct {
	Host    string
	User    string
	KeyPath string
	opts    clientOptions
}

type clientOptions struct {
	connectTimeout int
	loop           *reactor.Loop
	runnerOpts     []process.Option
	keyCheck       bool
	logger         *slog.Logger
}

// ClientOption configures optional Client parameters.
type ClientOption func(*clientOptions)

// WithConnectTimeout sets the ssh ConnectTimeout in seconds.
func WithConnectTimeout(seconds int) ClientOption {
	return func(o *clientOptions) {
		if seconds > 0 {
			o.connectTimeout = seconds
		}
	}
}

// WithLoop sets the event loop driving the ssh processes.
// Without it the process-wide default loop is used.
func WithLoop(loop *reactor.Loop) ClientOption {
	return func(o *clientOptions) {
		o.loop = loop
	}
}

// WithRunnerOptions passes options to every underlying process.Runner.
func WithRunnerOptions(opts ...process.Option) ClientOption {
	return func(o *clientOptions) {
		o.runnerOpts = append(o.runnerOpts, opts...)
	}
}

// WithKeyCheck parses the private key before spawning ssh.
func WithKeyCheck(enabled bool) ClientOption {
	return func(o *clientOptions) {
		o.keyCheck = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewClient creates a new remote command client
func NewClient(host, user, keyPath string, opts ...ClientOption) *Client {
	o := clientOptions{
		connectTimeout: DefaultConnectTimeout,
		logger:         slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &Client{
		Host:    host,
		User:    user,
		KeyPath: keyPath,
		opts:    o,
	}
}

// ConnectTimeout returns the configured connect timeout in seconds.
func (c *Client) ConnectTimeout() int {
	return c.opts.connectTimeout
}

// Options returns the fixed session options, in command line order.
func (c *Client) Options() []string {
	return []string{
		"UserKnownHostsFile /dev/null",
		"StrictHostKeyChecking no",
		"PreferredAuthentications publickey",
		"LogLevel quiet",
		fmt.Sprintf("ConnectTimeout %d", c.opts.connectTimeout),
	}
}

// Target returns user@host.
func (c *Client) Target() string {
	return c.User + "@" + c.Host
}

// Command builds the literal shell command that feeds remoteCmd to the
// remote shell through a heredoc. Nothing is escaped: the key path lands
// inside a double-quoted word and user@host is a bare word, so callers that
// print or run the result without Validate must check them with
// security.ValidateKeyPath, ValidateRemoteUser and ValidateHost first.
func (c *Client) Command(remoteCmd string) string {
	return fmt.Sprintf("%s %s -q -T -i \"%s\" %s <<%s\n%s\n%s\n",
		constants.SSHBinary,
		c.optString(),
		c.KeyPath,
		c.Target(),
		constants.HeredocSentinel,
		remoteCmd,
		constants.HeredocSentinel,
	)
}

func (c *Client) optString() string {
	opts := c.Options()
	parts := make([]string, 0, len(opts))
	for _, opt := range opts {
		parts = append(parts, fmt.Sprintf("-o \"%s\"", opt))
	}
	return strings.Join(parts, " ")
}

// Validate checks the connection parameters before anything is spawned.
func (c *Client) Validate() error {
	if err := security.ValidateHost(c.Host); err != nil {
		return fmt.Errorf("invalid host: %w", err)
	}
	if err := security.ValidateRemoteUser(c.User); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	if err := security.ValidateKeyPath(c.KeyPath); err != nil {
		return fmt.Errorf("invalid key path: %w", err)
	}
	if c.opts.keyCheck {
		if _, err := ValidateSSHKey(c.KeyPath); err != nil {
			return err
		}
	}
	return nil
}

// Runner prepares, but does not start, the local ssh process for remoteCmd.
func (c *Client) Runner(remoteCmd string) (*process.Runner, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := security.ValidateHeredocBody(remoteCmd, constants.HeredocSentinel); err != nil {
		return nil, err
	}

	loop := c.opts.loop
	if loop == nil {
		var err error
		if loop, err = reactor.Default(); err != nil {
			return nil, fmt.Errorf("failed to get default event loop: %w", err)
		}
	}

	command := c.Command(remoteCmd)
	c.opts.logger.Debug("ssh_command",
		"target", c.Target(),
		"command", security.SanitizeCommandForLog(remoteCmd),
	)

	opts := append([]process.Option{process.WithLogger(c.opts.logger)}, c.opts.runnerOpts...)
	return process.New(loop, command, opts...), nil
}

// Run executes remoteCmd and returns the pending Result of the local ssh
// process unchanged.
func (c *Client) Run(remoteCmd string) (<-chan process.Result, error) {
	r, err := c.Runner(remoteCmd)
	if err != nil {
		return nil, err
	}
	return r.Start()
}

// Exec runs remoteCmd and waits for it. See process.Runner.Wait for how ctx
// cancellation is reported.
func (c *Client) Exec(ctx context.Context, remoteCmd string) (*process.Result, error) {
	r, err := c.Runner(remoteCmd)
	if err != nil {
		return nil, err
	}
	if _, err := r.Start(); err != nil {
		return nil, err
	}
	res, err := r.Wait(ctx)
	return &res, err
}

// Close is a no-op; every call owns its own ssh process.
func (c *Client) Close() error {
	return nil
}

var _ Executor = (*Client)(nil)
