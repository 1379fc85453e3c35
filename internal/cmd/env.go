package cmd

import (
	"fmt"
	"strings"

	"github.com/yoanbernabeu/nbexec/internal/security"
)

type envVar struct {
	key   string
	value string
}

// parseEnv validates KEY=VALUE pairs from --env flags
func parseEnv(pairs []string) ([]envVar, error) {
	vars := make([]envVar, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env %q, use KEY=VALUE", pair)
		}
		if err := security.ValidateEnvKey(key); err != nil {
			return nil, fmt.Errorf("invalid --env key: %w", err)
		}
		vars = append(vars, envVar{key: key, value: value})
	}
	return vars, nil
}

// environ appends vars to base in KEY=VALUE form
func environ(base []string, vars []envVar) []string {
	env := make([]string, 0, len(base)+len(vars))
	env = append(env, base...)
	for _, v := range vars {
		env = append(env, v.key+"="+v.value)
	}
	return env
}

// exportPrefix renders vars as shell exports for a remote command body.
// The body travels through an unquoted heredoc, so each quoted value is
// escaped once more for the local shell.
func exportPrefix(vars []envVar) string {
	var b strings.Builder
	for _, v := range vars {
		value := security.HeredocEscape(security.ShellEscape(v.value))
		fmt.Fprintf(&b, "export %s=%s\n", v.key, value)
	}
	return b.String()
}
