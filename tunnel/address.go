package tunnel

// address.go implements the pure Address & Config Validators of
// spec.md §4.A: CheckHost, CheckPort, CheckAddress, CheckAddresses.
// None of these perform I/O — no DNS lookups, no binding.

import (
	"net"
	"path/filepath"
	"strings"

	ncerr "sshtunnel/internal/errors"
)

// CheckHost validates h as either an IP literal (v4 or v6) or an
// opaque DNS name. No lookup is performed.
func CheckHost(h string) error {
	if h == "" {
		return &ncerr.ConfigError{Field: "host", Message: "must not be empty"}
	}
	// A string containing ':' or made up only of digits and dots is
	// plausibly an IP literal; validate it strictly if so.
	if looksLikeIP(h) {
		if net.ParseIP(h) == nil {
			return &ncerr.ConfigError{Field: "host", Value: h, Message: "not a valid IP address"}
		}
	}
	return nil
}

func looksLikeIP(h string) bool {
	dotted := strings.Contains(h, ".")
	for _, c := range h {
		if c == ':' {
			return true // IPv6 literal or IPv6-in-brackets remnant
		}
		if c != '.' && (c < '0' || c > '9') {
			dotted = false
		}
	}
	return dotted || net.ParseIP(h) != nil
}

// CheckPort validates that p is in the inclusive range [0, 65535].
// Zero is permitted — it means "let the OS assign a port" on the
// local side.
func CheckPort(p int) error {
	if p < 0 || p > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: p, Message: "out of range 0-65535"}
	}
	return nil
}

// CheckAddress validates a (host, port) pair or an absolute socket
// path. Socket paths are rejected outright on platforms without
// UNIX-socket support (spec.md §3 invariant).
func CheckAddress(a Address) error {
	if a.IsSocket() {
		if !socketsSupported() {
			return &ncerr.ConfigError{
				Field:   "local_bind",
				Value:   a.Path,
				Message: "UNIX-socket binds are not supported on this platform",
			}
		}
		if !filepath.IsAbs(a.Path) {
			return &ncerr.ConfigError{Field: "local_bind", Value: a.Path, Message: "socket path must be absolute"}
		}
		return nil
	}
	if err := CheckHost(a.Host); err != nil {
		return err
	}
	return CheckPort(a.Port)
}

// CheckRemoteAddress validates a remote_target: like CheckAddress but
// the port must be strictly positive (spec.md §3: "port > 0").
func CheckRemoteAddress(a Address) error {
	if a.IsSocket() {
		return &ncerr.ConfigError{Field: "remote_target", Value: a.Path, Message: "remote targets must be (host, port), not a socket path"}
	}
	if err := CheckHost(a.Host); err != nil {
		return err
	}
	if a.Port <= 0 {
		return &ncerr.ConfigError{Field: "remote_target", Value: a.Port, Message: "port must be > 0"}
	}
	return nil
}

// CheckAddresses validates that every address in the list is
// homogeneous in family: either all (host, port) or all socket paths.
func CheckAddresses(addrs []Address) error {
	if len(addrs) == 0 {
		return nil
	}
	wantSocket := addrs[0].IsSocket()
	for i, a := range addrs {
		if a.IsSocket() != wantSocket {
			return &ncerr.ConfigError{
				Field:   "addresses",
				Value:   i,
				Message: "addresses must be homogeneous: all (host,port) or all socket paths",
			}
		}
		if err := CheckAddress(a); err != nil {
			return err
		}
	}
	return nil
}

// CheckRule validates one forwarding rule end to end.
func CheckRule(r ForwardingRule) error {
	if err := CheckAddress(r.Local); err != nil {
		return err
	}
	return CheckRemoteAddress(r.Remote)
}

// CheckRules validates every rule and, in addition, that the local
// binds are homogeneous in family across the whole rule set (spec.md
// §4.A check_addresses).
func CheckRules(rules []ForwardingRule) error {
	locals := make([]Address, len(rules))
	for i, r := range rules {
		if err := CheckRule(r); err != nil {
			return err
		}
		locals[i] = r.Local
	}
	return CheckAddresses(locals)
}
