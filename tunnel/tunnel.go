// Package tunnel implements the SSH-based port forwarding engine: an
// authenticated SSH session to a gateway, one local listener per
// forwarding rule, and a forward handler that bidirectionally proxies
// bytes between each accepted local connection and a direct-tcpip
// channel opened on the session.
//
// The package is organized around the components of the tunnel
// lifecycle:
//
//	address.go  - pure validators for hosts, ports, and bind addresses
//	auth.go     - ordered credential resolution
//	session.go  - SSH transport: open, keepalive, host-key policy, close
//	handler.go  - per-connection byte shuttle
//	listener.go - per-rule local listener (TCP or UNIX socket)
//	forwarder.go - the orchestrator: start/stop/restart/check
//	chain.go    - multi-hop gateway chaining
package tunnel

import (
	"runtime"

	"sshtunnel/util"
)

// Address is either a (host, port) pair or an absolute filesystem path
// to a UNIX domain socket (spec.md §3 ForwardingRule).
type Address struct {
	Host string
	Port int
	Path string // non-empty => UNIX socket form
}

// IsSocket reports whether the address names a UNIX domain socket
// rather than a (host, port) pair.
func (a Address) IsSocket() bool { return a.Path != "" }

// String renders the address the way it is used in diagnostics and as
// the key into TunnelIsUp.
func (a Address) String() string {
	if a.IsSocket() {
		return a.Path
	}
	return util.FormatAddr(a.Host, a.Port)
}

// socketsSupported reports whether the runtime platform can bind UNIX
// domain sockets (spec.md §9 "Platform conditionals"). Go supports
// them everywhere except Windows' older builds and WASM targets; this
// tool treats Windows as unsupported to match the original tool's
// conservative default.
func socketsSupported() bool {
	return runtime.GOOS != "windows" && runtime.GOOS != "js" && runtime.GOOS != "wasip1"
}

// ForwardingRule pairs a local bind endpoint with a remote target
// address interpreted on the gateway (spec.md §3).
type ForwardingRule struct {
	Local  Address
	Remote Address
}

// HostKeyPolicy selects how a gateway's presented host key is
// verified (spec.md §4.C).
type HostKeyPolicy int

const (
	// RequireKnown requires the host key to match an entry in the
	// known_hosts store.
	RequireKnown HostKeyPolicy = iota
	// AcceptAny never rejects a host key.
	AcceptAny
	// RequireSpecific requires the host key fingerprint to equal a
	// pinned value.
	RequireSpecific
)

func (p HostKeyPolicy) String() string {
	switch p {
	case RequireKnown:
		return "require-known"
	case AcceptAny:
		return "accept-any"
	case RequireSpecific:
		return "require-specific"
	default:
		return "unknown"
	}
}

// SessionState is one of the five states a Session moves through
// (spec.md §3).
type SessionState int

const (
	SessionUnauth SessionState = iota
	SessionAuthenticating
	SessionReady
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionUnauth:
		return "unauth"
	case SessionAuthenticating:
		return "authenticating"
	case SessionReady:
		return "ready"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ListenerState is one of the four states a Listener moves through
// (spec.md §3).
type ListenerState int

const (
	ListenerPending ListenerState = iota
	ListenerActive
	ListenerFailed
	ListenerStopped
)

func (s ListenerState) String() string {
	switch s {
	case ListenerPending:
		return "pending"
	case ListenerActive:
		return "active"
	case ListenerFailed:
		return "failed"
	case ListenerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ForwarderState is one of the five orchestrator states (spec.md
// §4.F).
type ForwarderState int

const (
	StateCreated ForwarderState = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s ForwarderState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
