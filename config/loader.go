package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)
//
// spec.md §6 only documents SSH_AUTH_SOCK and HOME as honored
// environment variables (consumed directly by the auth resolver). The
// SSHTUN_-prefixed overlay below is the ambient convenience layer every
// tool in this lineage carries for its own flags, sitting between
// defaults and CLI flags exactly like the teacher's GONC_ overlay.

import (
	"os"
	"strconv"
	"strings"
)

// LoadFromEnv overlays environment variables onto o. Only non-empty
// env vars override the existing value. This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(o *Options) {
	if v := os.Getenv("SSHTUN_GATEWAY"); v != "" {
		o.SSHAddressOrHost = v
	}
	if v := os.Getenv("SSHTUN_USER"); v != "" {
		o.SSHUsername = v
	}
	if v := os.Getenv("SSHTUN_PASSWORD"); v != "" {
		o.SSHPassword = v
	}
	if v := os.Getenv("SSHTUN_SSH_CONFIG"); v != "" {
		o.SSHConfigFile = v
	}
	if v := os.Getenv("SSHTUN_HOST_KEY"); v != "" {
		o.SSHHostKey = v
	}
	if envBool("SSHTUN_COMPRESSION") {
		o.Compression = true
	}
	if envBool("SSHTUN_MUTE_EXCEPTIONS") {
		o.MuteExceptions = true
	}
	if v := envFloat("SSHTUN_KEEPALIVE"); v > 0 {
		o.SetKeepalive = v
	}
	if v := os.Getenv("SSHTUN_DIRS"); v != "" {
		o.HostPkeyDirectories = strings.Split(v, string(os.PathListSeparator))
	}
	if v := envInt("SSHTUN_VERBOSE"); v > 0 {
		o.LoggerLevel = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envFloat(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}
