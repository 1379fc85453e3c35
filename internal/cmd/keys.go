package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/nbexec/internal/constants"
	"github.com/yoanbernabeu/nbexec/internal/ssh"
)

func newKeysCmd(a *app) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List discovered SSH private keys",
		Long: `Lists the private keys found in ~/.ssh (or --dir), in the order they
are preferred when no key is configured: ed25519, rsa, ecdsa, others.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.runKeys(dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to scan (default: ~/.ssh)")

	return cmd
}

func (a *app) runKeys(dir string) error {
	if dir == "" {
		var err error
		if dir, err = ssh.DefaultSSHDir(); err != nil {
			return err
		}
	}

	keys, err := ssh.DiscoverSSHKeys(dir)
	if err != nil {
		return err
	}

	env := os.Getenv(constants.EnvSSHKeyPath)
	if env != "" {
		a.PrintInfo("%s is set: %s", constants.EnvSSHKeyPath, env)
	}

	if len(keys) == 0 {
		a.PrintWarning("No SSH keys found in %s", dir)
		return nil
	}

	fmt.Fprintln(a.out, headerStyle.Render(fmt.Sprintf("SSH keys in %s:", dir)))
	for i, k := range keys {
		line := fmt.Sprintf("  %-20s %-8s", k.Name, k.Type)
		if k.IsEncrypted {
			line += " " + mutedStyle.Render("(passphrase)")
		}
		if i == 0 && env == "" {
			line += " " + successStyle.Render("default")
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}
