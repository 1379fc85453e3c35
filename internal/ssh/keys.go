package ssh

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/yoanbernabeu/nbexec/internal/constants"
)

// SSHKeyInfo contains information about an SSH key
type SSHKeyInfo struct {
	Path        string // Full path to the key file
	Name        string // Key filename (e.g., "id_ed25519")
	Type        string // Key type (e.g., "ed25519", "rsa", "ecdsa")
	IsEncrypted bool   // True if key is passphrase-protected
}

// DefaultSSHDir returns ~/.ssh
func DefaultSSHDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ssh"), nil
}

// DiscoverSSHKeys scans dir for private keys
// Returns keys sorted by preference: ed25519 first, then rsa, then others
func DiscoverSSHKeys(dir string) ([]SSHKeyInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var keys []SSHKeyInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Skip public keys and known_hosts
		if strings.HasSuffix(name, ".pub") ||
			name == "known_hosts" ||
			name == "authorized_keys" ||
			name == "config" {
			continue
		}

		// Look for id_* patterns or *.pem files
		if !strings.HasPrefix(name, "id_") && !strings.HasSuffix(name, ".pem") {
			continue
		}

		keyInfo, err := ValidateSSHKey(filepath.Join(dir, name))
		if err != nil {
			// Skip invalid key files
			continue
		}

		keys = append(keys, *keyInfo)
	}

	// Sort by preference: ed25519 > rsa > ecdsa > others
	sort.SliceStable(keys, func(i, j int) bool {
		return keyTypePriority(keys[i].Type) < keyTypePriority(keys[j].Type)
	})

	return keys, nil
}

// DefaultKeyPath resolves the key used when none is configured: the
// NBEXEC_SSH_KEY_PATH environment variable, then the preferred key in ~/.ssh.
func DefaultKeyPath() (string, error) {
	if p := os.Getenv(constants.EnvSSHKeyPath); p != "" {
		return p, nil
	}

	dir, err := DefaultSSHDir()
	if err != nil {
		return "", err
	}
	keys, err := DiscoverSSHKeys(dir)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("no SSH key found in %s (set %s or pass --key)", dir, constants.EnvSSHKeyPath)
	}
	return keys[0].Path, nil
}

// keyTypePriority returns sort priority for key types (lower is better)
func keyTypePriority(keyType string) int {
	switch keyType {
	case "ed25519":
		return 1
	case "rsa":
		return 2
	case "ecdsa":
		return 3
	default:
		return 4
	}
}

// ValidateSSHKey validates a key file and returns its info
func ValidateSSHKey(path string) (*SSHKeyInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	keyInfo := &SSHKeyInfo{
		Path: path,
		Name: filepath.Base(path),
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			keyInfo.IsEncrypted = true
			if missing.PublicKey != nil {
				keyInfo.Type = keyTypeName(missing.PublicKey.Type())
			} else {
				keyInfo.Type = "unknown"
			}
			return keyInfo, nil
		}
		return nil, fmt.Errorf("invalid SSH key: %w", err)
	}

	keyInfo.Type = keyTypeName(signer.PublicKey().Type())
	return keyInfo, nil
}

// keyTypeName maps an SSH wire algorithm name to a short key type
func keyTypeName(algo string) string {
	switch {
	case algo == ssh.KeyAlgoED25519:
		return "ed25519"
	case algo == ssh.KeyAlgoRSA:
		return "rsa"
	case strings.HasPrefix(algo, "ecdsa-"):
		return "ecdsa"
	case algo == ssh.KeyAlgoDSA: //nolint:staticcheck
		return "dsa"
	default:
		return "unknown"
	}
}
