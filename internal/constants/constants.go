package constants

import (
	"strconv"
	"time"
)

// Local execution defaults
const (
	DefaultShell    = "/bin/sh"
	DefaultReadSize = 4096
	MaxReadSize     = 1 << 20
)

// Exit polling after the output stream closed before the child was reaped
const (
	ExitPollInitialDelay = time.Millisecond
	ExitPollMaxDelay     = 50 * time.Millisecond
)

// Remote execution defaults
const (
	SSHBinary             = "ssh"
	DefaultConnectTimeout = 2 // seconds
	HeredocSentinel       = "EOF"
)

// Config file locations
const (
	ConfigDirName  = "nbexec"
	ConfigFileName = "config.yaml"
)

// Environment overrides
const (
	EnvSSHKeyPath = "NBEXEC_SSH_KEY_PATH"
	EnvConfigPath = "NBEXEC_CONFIG"
)

// ReasonText returns the human readable summary for an exit code.
func ReasonText(code int) string {
	return "command returned " + strconv.Itoa(code)
}
