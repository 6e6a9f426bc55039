// Package errors provides the domain-specific error taxonomy for the
// tunnel library (spec.md §7): ConfigError, NoAuthMethodsError,
// AuthenticationError, HostKeyError, SessionError, ListenerError,
// HandlerError, and ShutdownTimeout, built on the same structured,
// Unwrap-friendly pattern as NetworkError/SSHError below.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrTunnelClosed    = errors.New("tunnel is closed")
	ErrNotConnected    = errors.New("not connected")
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTimeout         = errors.New("operation timed out")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "channel", "forward"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// NoAuthMethodsError is raised when the authentication resolver
// produces an empty credential list (spec.md §4.B).
type NoAuthMethodsError struct {
	Gateway string
}

func (e *NoAuthMethodsError) Error() string {
	return fmt.Sprintf("no SSH authentication methods available for %s – "+
		"use a password, private key, or agent", e.Gateway)
}

// AuthenticationError is raised when every candidate credential is
// rejected by the gateway (spec.md §4.C). It carries the last wire
// error, per spec.
type AuthenticationError struct {
	Gateway string
	Last    error // the error returned by the final attempted credential
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication to %s failed: %v", e.Gateway, e.Last)
}

func (e *AuthenticationError) Unwrap() error { return e.Last }

// Is reports whether target is ErrAuthFailed, letting callers match the
// sentinel with errors.Is without disturbing Unwrap's exposure of the
// real wire error.
func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthFailed }

// HostKeyError is raised when the gateway's host key violates the
// configured host-key policy (spec.md §4.C).
type HostKeyError struct {
	Gateway string
	Policy  string // "require-known", "require-specific", ...
	Reason  string
}

func (e *HostKeyError) Error() string {
	return fmt.Sprintf("host key error for %s (%s): %s", e.Gateway, e.Policy, e.Reason)
}

// Is reports whether target is ErrHostKeyMismatch.
func (e *HostKeyError) Is(target error) bool { return target == ErrHostKeyMismatch }

// SessionError is raised when the SSH transport opens successfully but
// later fails (spec.md §7: "fatal to forwarder; listeners stopped").
type SessionError struct {
	Gateway   string
	Err       error
	Retryable bool // set by NewSessionError from the underlying error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session to %s failed: %v", e.Gateway, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// NewSessionError builds a SessionError with Retryable classified from
// err, so a multi-hop retry loop can tell a dropped direct-tcpip
// channel (worth retrying) from an authentication or host-key failure
// (not) without re-deriving the classification itself.
func NewSessionError(gateway string, err error) *SessionError {
	return &SessionError{Gateway: gateway, Err: err, Retryable: classifyRetryable(err)}
}

// ListenerError records a single rule's bind failure. Multiple
// ListenerErrors are aggregated by the readiness policy into an
// AggregateListenerError (spec.md §4.F step 6).
type ListenerError struct {
	LocalBind string
	Err       error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s: %v", e.LocalBind, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// AggregateListenerError collects every ListenerError recorded while
// starting a forwarder with mute_exceptions=false.
type AggregateListenerError struct {
	Errors []*ListenerError
}

func (e *AggregateListenerError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d listeners failed:", len(e.Errors))
	for _, le := range e.Errors {
		msg += "\n  " + le.Error()
	}
	return msg
}

// HandlerError records a failure handling one accepted connection
// (channel open or byte shuttle). It never surfaces past the
// connection that produced it (spec.md §7).
type HandlerError struct {
	LocalBind string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s: %v", e.LocalBind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ShutdownTimeout is raised when a graceful Stop exceeds
// TUNNEL_TIMEOUT and must escalate to a forced close.
type ShutdownTimeout struct {
	Waited string
}

func (e *ShutdownTimeout) Error() string {
	return fmt.Sprintf("stop exceeded tunnel timeout after %s, escalating to forced close", e.Waited)
}

// Unwrap exposes ErrTimeout so callers can detect a forced escalation
// with errors.Is(err, ErrTimeout) without parsing Error()'s text.
func (e *ShutdownTimeout) Unwrap() error { return ErrTimeout }

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	var se *SessionError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return classifyRetryable(err)
}

// IsTemporary reports whether err represents a temporary condition.
func IsTemporary(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable // temporary ≈ retryable for network errors
	}
	return classifyRetryable(err)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	// net.OpError with Temporary() hint
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	// DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use sshtunnel/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
