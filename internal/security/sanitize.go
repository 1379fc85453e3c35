package security

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ErrSentinelInBody is returned when a heredoc body contains its own
// terminator line, which would end the block early on the remote side.
var ErrSentinelInBody = errors.New("command contains the heredoc terminator line")

var (
	// hostNameRegex validates host entry names in the config file
	// Allows: letters, numbers, underscores, hyphens
	// Length: 1-64 characters
	hostNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,62}[a-zA-Z0-9])?$`)

	// dnsNameRegex validates a DNS host name (RFC 1123 labels)
	dnsNameRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*\.?$`)

	// remoteUserRegex validates the user half of an unquoted user@host word.
	// A leading hyphen would be read as an ssh option.
	remoteUserRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

	// envKeyRegex validates environment variable keys
	envKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// sensitiveKeySuffixes mark KEY=value assignments whose value is masked
	sensitiveKeySuffixes = []string{
		"PASSWORD",
		"PASSWD",
		"SECRET",
		"TOKEN",
		"API_KEY",
		"DATABASE_URL",
	}

	assignmentRegex = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)=`)
)

// ValidateHostName validates the name of a configured host entry
func ValidateHostName(name string) error {
	if name == "" {
		return fmt.Errorf("host name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("host name too long (max 64 characters)")
	}
	if !hostNameRegex.MatchString(name) {
		return fmt.Errorf("host name must contain only letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ValidateHost validates a remote address: a DNS name or an IP literal
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if len(host) > 253 {
		return fmt.Errorf("host too long (max 253 characters)")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if !dnsNameRegex.MatchString(host) {
		return fmt.Errorf("host must be a DNS name or an IP address")
	}
	return nil
}

// ValidateRemoteUser validates a login name for the remote host
func ValidateRemoteUser(user string) error {
	if user == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if len(user) > 256 {
		return fmt.Errorf("username too long (max 256 characters)")
	}
	if !remoteUserRegex.MatchString(user) {
		return fmt.Errorf("username must contain only letters, numbers, dots, underscores, and hyphens, and not start with a dot or hyphen")
	}
	return nil
}

// ValidateKeyPath validates a private key path that is embedded in a
// double-quoted shell word
func ValidateKeyPath(path string) error {
	if path == "" {
		return fmt.Errorf("key path cannot be empty")
	}
	if strings.ContainsAny(path, "\"`$\\\n\r") {
		return fmt.Errorf("key path contains characters that cannot be quoted safely")
	}
	return nil
}

// ValidateEnvKey validates an environment variable key
func ValidateEnvKey(key string) error {
	if key == "" {
		return fmt.Errorf("environment variable key cannot be empty")
	}
	if len(key) > 256 {
		return fmt.Errorf("environment variable key too long (max 256 characters)")
	}
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("environment variable key must start with a letter or underscore, followed by letters, numbers, or underscores")
	}
	return nil
}

// ValidateHeredocBody rejects a body containing a line equal to sentinel
func ValidateHeredocBody(body, sentinel string) error {
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSuffix(line, "\r") == sentinel {
			return fmt.Errorf("%w: %q", ErrSentinelInBody, sentinel)
		}
	}
	return nil
}

// ShellEscape escapes a string for safe use in shell commands by wrapping it
// in single quotes and escaping any internal single quotes using the POSIX
// pattern: ' → '\''
func ShellEscape(s string) string {
	escaped := strings.ReplaceAll(s, "'", "'\\''")
	return "'" + escaped + "'"
}

// heredocEscaper protects the characters an unquoted heredoc still expands
var heredocEscaper = strings.NewReplacer(`\`, `\\`, "$", `\$`, "`", "\\`")

// HeredocEscape escapes s for a body read through an unquoted heredoc
// (<<EOF), so the shell reading the heredoc passes it through verbatim.
// Quotes are not special there; only backslash, dollar and backtick are.
func HeredocEscape(s string) string {
	return heredocEscaper.Replace(s)
}

// SanitizeCommandForLog masks sensitive values in commands before logging.
// This prevents secrets from leaking into verbose output or log files.
func SanitizeCommandForLog(cmd string) string {
	var b strings.Builder
	rest := cmd
	for {
		loc := assignmentRegex.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			return b.String()
		}

		key := rest[loc[2]:loc[3]]
		valueStart := loc[1]
		b.WriteString(rest[:valueStart])

		if !isSensitiveKey(key) {
			rest = rest[valueStart:]
			continue
		}

		valueEnd := findValueEnd(rest, valueStart)
		b.WriteString("****")
		rest = rest[valueEnd:]
	}
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, suffix := range sensitiveKeySuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// findValueEnd finds where a shell value ends (handles quoted and unquoted values)
func findValueEnd(s string, start int) int {
	if start >= len(s) {
		return start
	}

	// Handle single-quoted value
	if s[start] == '\'' {
		end := strings.Index(s[start+1:], "'")
		if end == -1 {
			return len(s)
		}
		return start + end + 2
	}

	// Handle double-quoted value
	if s[start] == '"' {
		end := strings.Index(s[start+1:], "\"")
		if end == -1 {
			return len(s)
		}
		return start + end + 2
	}

	// Unquoted: find next whitespace or command separator
	for i := start; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', ';', '&', '|':
			return i
		}
	}
	return len(s)
}
