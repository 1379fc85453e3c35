package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/nbexec/internal/config"
	"github.com/yoanbernabeu/nbexec/internal/security"
	"github.com/yoanbernabeu/nbexec/internal/ssh"
)

// newExecutor is replaced in tests
var newExecutor = func(c *ssh.Client) ssh.Executor {
	return c
}

type sshOptions struct {
	keyPath        string
	connectTimeout int
	timeout        time.Duration
	print          bool
	env            []string
}

func newSSHCmd(a *app) *cobra.Command {
	var opts sshOptions

	cmd := &cobra.Command{
		Use:   "ssh <host-name|user@host> <command>...",
		Short: "Run a command on a remote host through ssh",
		Long: `Runs a command on a remote host by spawning the local ssh client and
feeding the command to the remote shell through a heredoc. The target is
either a host name from the config file or user@host.

Host key checking is disabled and only public key authentication is
attempted.

Examples:
  nbexec ssh web "systemctl status app"
  nbexec ssh deploy@10.0.0.5 uptime --key ~/.ssh/id_ed25519
  nbexec ssh web "df -h" --print`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSSH(cmd.Context(), args[0], strings.Join(args[1:], " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.keyPath, "key", "k", "", "SSH private key path")
	cmd.Flags().IntVar(&opts.connectTimeout, "connect-timeout", 0, "ssh ConnectTimeout in seconds (default from config)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Kill the ssh process after this duration")
	cmd.Flags().BoolVar(&opts.print, "print", false, "Print the ssh command line instead of running it")
	cmd.Flags().StringArrayVarP(&opts.env, "env", "e", nil, "Export KEY=VALUE in the remote shell (repeatable)")

	return cmd
}

func (a *app) runSSH(ctx context.Context, target, remoteCmd string, opts sshOptions) error {
	vars, err := parseEnv(opts.env)
	if err != nil {
		return err
	}
	remoteCmd = exportPrefix(vars) + remoteCmd

	client, err := a.clientFor(target, opts)
	if err != nil {
		return err
	}

	if opts.print {
		if err := security.ValidateKeyPath(client.KeyPath); err != nil {
			return fmt.Errorf("invalid key path: %w", err)
		}
		fmt.Fprint(a.out, client.Command(remoteCmd))
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	executor := newExecutor(client)
	defer executor.Close()

	a.PrintVerbose("Target: %s", client.Target())
	a.PrintVerboseCommand(remoteCmd)

	res, err := executor.Exec(ctx, remoteCmd)
	if res != nil {
		if _, werr := a.out.Write(res.Output); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return fmt.Errorf("remote command failed: %s", res.Reason)
	}
	return nil
}

// clientFor resolves a host name or user@host into a Client
func (a *app) clientFor(target string, opts sshOptions) (*ssh.Client, error) {
	var hostCfg *config.HostConfig

	if user, host, ok := strings.Cut(target, "@"); ok {
		hostCfg = &config.HostConfig{Host: host, User: user}
	} else {
		h, err := a.cfg.GetHost(target)
		if err != nil {
			return nil, err
		}
		hostCfg = h
	}

	keyPath := firstNonEmpty(opts.keyPath, hostCfg.KeyPath, a.cfg.DefaultKeyPath)
	if keyPath == "" {
		var err error
		if keyPath, err = ssh.DefaultKeyPath(); err != nil {
			return nil, err
		}
	}

	timeout := opts.connectTimeout
	if timeout <= 0 {
		timeout = a.cfg.EffectiveConnectTimeout(hostCfg)
	}

	return ssh.NewClient(hostCfg.Host, hostCfg.User, keyPath,
		ssh.WithConnectTimeout(timeout),
		ssh.WithKeyCheck(true),
		ssh.WithLogger(a.logger),
		ssh.WithRunnerOptions(a.runnerOptions(runOptions{})...),
	), nil
}
