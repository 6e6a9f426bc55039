package tunnel

// auth.go implements the Authentication Resolver of spec.md §4.B: from
// explicit keys, an SSH agent, scanned key directories, and a
// password, produce a single ordered, deduplicated list of SSH
// authentication methods.
//
// The documented default order (spec.md §9 Open Questions) is:
//
//	explicit keys → agent → scanned directory keys → password
//
// Duplicates are collapsed by key fingerprint, keeping the first
// occurrence. A passphrase-protected key that fails to decrypt is
// dropped with a logged warning, never a hard error.

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	ncerr "sshtunnel/internal/errors"
	"sshtunnel/util"
)

// AuthConfig holds every source the resolver can draw credentials
// from (spec.md §4.B input table).
type AuthConfig struct {
	// Password is appended last, if non-empty.
	Password string

	// PrivateKeyPEM is an in-memory private key (spec.md's ssh_pkey).
	PrivateKeyPEM []byte
	// PrivateKeyFiles are paths to key files (spec.md's ssh_pkey_file);
	// each is loaded and, if encrypted, decrypted with KeyPassphrase.
	PrivateKeyFiles []string
	KeyPassphrase   string

	// AllowAgent enumerates identities from SSH_AUTH_SOCK when true.
	AllowAgent bool

	// HostPkeyDirectories are scanned for keys not explicitly provided.
	HostPkeyDirectories []string

	Logger *util.Logger
}

// BuildCredentials produces the ordered, deduplicated credential list.
// An empty result is a hard error (NoAuthMethodsError).
func BuildCredentials(cfg *AuthConfig, gateway string) ([]ssh.AuthMethod, error) {
	seen := make(map[string]bool) // fingerprint -> already included

	var methods []ssh.AuthMethod

	// 1. Explicit keys (in-memory + files).
	explicit := collectExplicitSigners(cfg, seen)
	if len(explicit) > 0 {
		methods = append(methods, ssh.PublicKeys(explicit...))
	}

	// 2. SSH agent.
	if cfg.AllowAgent {
		m, err := agentAuthMethod(seen)
		if err != nil {
			logWarn(cfg.Logger, "ssh-agent unavailable: %v", err)
		} else if m != nil {
			methods = append(methods, m)
		}
	}

	// 3. Scanned key directories.
	scanned := scanDirectorySigners(cfg, seen)
	if len(scanned) > 0 {
		methods = append(methods, ssh.PublicKeys(scanned...))
	}

	// 4. Password.
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, &ncerr.NoAuthMethodsError{Gateway: gateway}
	}
	return methods, nil
}

// ── explicit keys ────────────────────────────────────────────────────

func collectExplicitSigners(cfg *AuthConfig, seen map[string]bool) []ssh.Signer {
	var out []ssh.Signer

	if len(cfg.PrivateKeyPEM) > 0 {
		if signer, err := parsePrivateKey(cfg.PrivateKeyPEM, cfg.KeyPassphrase); err != nil {
			logWarn(cfg.Logger, "in-memory private key: %v", err)
		} else if addIfNew(seen, signer) {
			out = append(out, signer)
		}
	}

	for _, path := range cfg.PrivateKeyFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			logWarn(cfg.Logger, "reading key %s: %v", path, err)
			continue
		}
		signer, err := parsePrivateKey(data, cfg.KeyPassphrase)
		if err != nil {
			logWarn(cfg.Logger, "loading key %s: %v (dropped, not fatal)", path, err)
			continue
		}
		if addIfNew(seen, signer) {
			out = append(out, signer)
		}
	}

	return out
}

// parsePrivateKey parses PEM-encoded key data, retrying with the
// supplied passphrase if the key is encrypted.
func parsePrivateKey(data []byte, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	if _, ok := err.(*ssh.PassphraseMissingError); !ok {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("key is encrypted and no passphrase was supplied")
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("decrypting key: %w", err)
	}
	return signer, nil
}

// ── SSH agent ────────────────────────────────────────────────────────

func agentAuthMethod(seen map[string]bool) (ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}

	client := agent.NewClient(conn)
	keys, err := client.List()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("listing agent identities: %w", err)
	}
	if len(keys) == 0 {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("agent has no identities")
	}

	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		fp := ssh.FingerprintSHA256(k)
		if !seen[fp] {
			allowed[fp] = true
			seen[fp] = true
		}
	}
	if len(allowed) == 0 {
		// Every agent identity duplicates an already-seen key.
		return nil, nil //nolint:nilnil
	}

	return ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
		signers, err := client.Signers()
		if err != nil {
			return nil, err
		}
		out := make([]ssh.Signer, 0, len(signers))
		for _, s := range signers {
			if allowed[ssh.FingerprintSHA256(s.PublicKey())] {
				out = append(out, s)
			}
		}
		return out, nil
	}), nil
}

// ── scanned directories ─────────────────────────────────────────────

func scanDirectorySigners(cfg *AuthConfig, seen map[string]bool) []ssh.Signer {
	var out []ssh.Signer
	for _, dir := range cfg.HostPkeyDirectories {
		dir = expandHome(dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) == ".pub" {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			signer, err := parsePrivateKey(data, cfg.KeyPassphrase)
			if err != nil {
				continue // not a key, or needs a passphrase we don't have; skip silently
			}
			if addIfNew(seen, signer) {
				out = append(out, signer)
			}
		}
	}
	return out
}

// ── helpers ──────────────────────────────────────────────────────────

func addIfNew(seen map[string]bool, signer ssh.Signer) bool {
	fp := ssh.FingerprintSHA256(signer.PublicKey())
	if seen[fp] {
		return false
	}
	seen[fp] = true
	return true
}

func expandHome(path string) string {
	if path == "~" || (len(path) > 1 && path[:2] == "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func logWarn(l *util.Logger, format string, args ...interface{}) {
	if l != nil {
		l.Warn(format, args...)
	}
}
