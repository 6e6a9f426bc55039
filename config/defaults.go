package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across the CLI flags, the library constructor, and environment
// variable loading.

const (
	// DefaultSSHPort is the standard SSH port, used when a gateway
	// address omits one.
	DefaultSSHPort = 22

	// DefaultLocalHost is the address a local bind uses when the rule
	// leaves the host empty.
	DefaultLocalHost = "127.0.0.1"

	// DefaultKeepAliveInterval is the SSH protocol-level keepalive
	// interval, in seconds.
	DefaultKeepAliveInterval = 5.0

	// DefaultConnTimeout bounds the TCP dial and SSH handshake.
	DefaultConnTimeout = 30 * time.Second

	// DefaultSSHTimeout ("SSH_TIMEOUT") is the per-socket read slice
	// used by forward handlers to observe cancellation promptly.
	DefaultSSHTimeout = 100 * time.Millisecond

	// DefaultTunnelTimeout ("TUNNEL_TIMEOUT") bounds a graceful Stop.
	DefaultTunnelTimeout = 10 * time.Second

	// DefaultAllowAgent matches the documented default of the library
	// constructor: the SSH agent is consulted unless disabled.
	DefaultAllowAgent = true

	// DefaultThreaded matches the documented default: one worker per
	// accepted connection.
	DefaultThreaded = true

	// DefaultHostPkeyDirectory is scanned for identity files when none
	// are explicitly configured.
	DefaultHostPkeyDirectory = "~/.ssh"
)
