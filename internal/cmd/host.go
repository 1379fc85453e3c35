package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/nbexec/internal/config"
	"github.com/yoanbernabeu/nbexec/internal/security"
	"github.com/yoanbernabeu/nbexec/internal/ssh"
)

func newHostCmd(a *app) *cobra.Command {
	hostCmd := &cobra.Command{
		Use:   "host",
		Short: "Manage named hosts",
		Long:  `Commands to add, list, show and remove the named hosts used by "nbexec ssh".`,
	}

	var (
		keyPath        string
		connectTimeout int
	)

	addCmd := &cobra.Command{
		Use:   "add <name> <user@host>",
		Short: "Add a new host",
		Long: `Adds a named host to the global configuration.

Example:
  nbexec host add web deploy@web.example.com
  nbexec host add db postgres@10.0.0.2 --key ~/.ssh/id_db --connect-timeout 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.runHostAdd(args[0], args[1], keyPath, connectTimeout)
		},
	}
	addCmd.Flags().StringVarP(&keyPath, "key", "k", "", "SSH private key path")
	addCmd.Flags().IntVar(&connectTimeout, "connect-timeout", 0, "ssh ConnectTimeout in seconds")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured hosts",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.runHostList()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a host and the ssh command line used for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.runHostShow(args[0])
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.runHostRemove(args[0])
		},
	}

	hostCmd.AddCommand(addCmd, listCmd, showCmd, removeCmd)
	return hostCmd
}

func (a *app) runHostAdd(name, hostSpec, keyPath string, connectTimeout int) error {
	if err := security.ValidateHostName(name); err != nil {
		return fmt.Errorf("invalid host name: %w", err)
	}

	user, host, ok := strings.Cut(hostSpec, "@")
	if !ok || user == "" || host == "" {
		return fmt.Errorf("invalid host format, use user@host")
	}

	if err := a.cfg.AddHost(name, config.HostConfig{
		Host:           host,
		User:           user,
		KeyPath:        keyPath,
		ConnectTimeout: connectTimeout,
	}); err != nil {
		return err
	}

	if err := config.SaveGlobalConfig(a.cfg, a.opts.cfgFile); err != nil {
		return err
	}

	a.PrintSuccess("Host '%s' added (%s@%s)", name, user, host)
	return nil
}

func (a *app) runHostList() error {
	names := a.cfg.ListHosts()
	if len(names) == 0 {
		a.PrintInfo("No hosts configured")
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, "Add a host with:")
		fmt.Fprintln(a.out, "  nbexec host add <name> <user@host>")
		return nil
	}

	fmt.Fprintln(a.out, headerStyle.Render("Configured hosts:"))
	fmt.Fprintln(a.out)
	for _, name := range names {
		h := a.cfg.Hosts[name]
		fmt.Fprintf(a.out, "  %s\n", name)
		fmt.Fprintf(a.out, "    Host: %s@%s\n", h.User, h.Host)
		if h.KeyPath != "" {
			fmt.Fprintf(a.out, "    Key:  %s\n", h.KeyPath)
		}
		fmt.Fprintln(a.out)
	}
	return nil
}

func (a *app) runHostShow(name string) error {
	h, err := a.cfg.GetHost(name)
	if err != nil {
		return err
	}

	keyPath := firstNonEmpty(h.KeyPath, a.cfg.DefaultKeyPath)
	if keyPath == "" {
		keyPath = mutedStyle.Render("(auto)")
	} else if err := security.ValidateKeyPath(keyPath); err != nil {
		return fmt.Errorf("invalid key path: %w", err)
	}

	fmt.Fprintln(a.out, headerStyle.Render(name))
	fmt.Fprintf(a.out, "  Host:            %s\n", h.Host)
	fmt.Fprintf(a.out, "  User:            %s\n", h.User)
	fmt.Fprintf(a.out, "  Key:             %s\n", keyPath)
	fmt.Fprintf(a.out, "  Connect timeout: %ds\n", a.cfg.EffectiveConnectTimeout(h))

	client := ssh.NewClient(h.Host, h.User, firstNonEmpty(h.KeyPath, a.cfg.DefaultKeyPath, "<key>"),
		ssh.WithConnectTimeout(a.cfg.EffectiveConnectTimeout(h)))
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, mutedStyle.Render("Command line:"))
	fmt.Fprint(a.out, client.Command("<command>"))
	return nil
}

func (a *app) runHostRemove(name string) error {
	if _, err := a.cfg.GetHost(name); err != nil {
		return err
	}

	if a.IsInteractive() && !a.PromptConfirm(fmt.Sprintf("Remove host '%s'?", name)) {
		a.PrintInfo("Aborted")
		return nil
	}

	if err := a.cfg.RemoveHost(name); err != nil {
		return err
	}
	if err := config.SaveGlobalConfig(a.cfg, a.opts.cfgFile); err != nil {
		return err
	}

	a.PrintSuccess("Host '%s' removed", name)
	return nil
}
