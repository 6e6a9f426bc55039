// Package config defines the permissive set of recognized options for
// the tunnel library's constructor (spec.md §6) as an explicit,
// enumerated record, plus the small deprecation-alias layer that lets
// older option names keep working with a single warning.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sshtunnel/util"
)

// Options is the permissive configuration bag accepted by the tunnel
// library's constructor. Every field corresponds to one row of
// spec.md §6's option table. CLI callers (cmd/root.go) populate this
// struct directly from flags instead of going through a string-keyed
// map — the "dynamic configuration object" the original tool used is
// replaced by this explicit record (spec.md §9).
type Options struct {
	// ── Gateway ──────────────────────────────────────────────────────
	SSHAddressOrHost string // host, "host:port", or an alias resolved via SSHConfigFile
	SSHPort          int    // overrides any port embedded in SSHAddressOrHost when non-zero
	SSHUsername      string
	SSHPassword      string
	SSHPkey          []byte   // in-memory private key, PEM-encoded
	SSHPkeyFiles     []string // on-disk private key paths (spec.md's -K)
	SSHPkeyPassword  string
	SSHHostKey       string // pinned fingerprint for host_key_policy=require-specific
	SSHConfigFile    string // default: ~/.ssh/config if present
	SSHProxy         string // outer proxy address, dialed instead of the gateway
	SSHProxyEnabled  bool

	HostPkeyDirectories []string // default: ["~/.ssh"]
	AllowAgent          *bool    // nil = default true
	Compression         bool
	MuteExceptions      bool
	SetKeepalive        float64 // seconds; 0 selects the default 5.0
	Threaded            *bool   // nil = default true

	LocalBindAddresses  []string // -L rule set, "host:port" or an absolute path
	RemoteBindAddresses []string // -R rule set, "host:port"

	Logger      *util.Logger
	LoggerLevel int

	RetryAttempts int // multi-hop dial resilience knob; 0 or 1 = spec default (no retry)

	// ── Deprecated aliases ───────────────────────────────────────────
	// Accepted with a warning; the corresponding current-name field
	// above takes precedence when both are set.
	SSHAddress                               string // → SSHAddressOrHost
	SSHHost                                   string // → SSHAddressOrHost
	SSHPrivateKey                             []byte // → SSHPkey
	SSHPrivateKeyPassword                     string // → SSHPkeyPassword
	RaiseExceptionIfAnyForwarderHaveAProblem *bool  // → MuteExceptions, inverted
}

// ResolveDeprecated applies every deprecated alias that has a value
// and whose current-name counterpart is unset, logging one warning
// per alias actually used. It must run before the options are
// otherwise consulted (invariant: current name overrides the
// deprecated one when both are given).
func ResolveDeprecated(o *Options, logger *util.Logger) {
	warn := func(old, new string) {
		if logger != nil {
			logger.Warn("option %q is deprecated, use %q instead", old, new)
		}
	}

	if o.SSHAddressOrHost == "" && o.SSHAddress != "" {
		warn("ssh_address", "ssh_address_or_host")
		o.SSHAddressOrHost = o.SSHAddress
	}
	if o.SSHAddressOrHost == "" && o.SSHHost != "" {
		warn("ssh_host", "ssh_address_or_host")
		o.SSHAddressOrHost = o.SSHHost
	}
	if len(o.SSHPkey) == 0 && len(o.SSHPrivateKey) != 0 {
		warn("ssh_private_key", "ssh_pkey")
		o.SSHPkey = o.SSHPrivateKey
	}
	if o.SSHPkeyPassword == "" && o.SSHPrivateKeyPassword != "" {
		warn("ssh_private_key_password", "ssh_pkey_password")
		o.SSHPkeyPassword = o.SSHPrivateKeyPassword
	}
	if o.RaiseExceptionIfAnyForwarderHaveAProblem != nil && !o.MuteExceptions {
		warn("raise_exception_if_any_forwarder_have_a_problem", "mute_exceptions")
		o.MuteExceptions = !*o.RaiseExceptionIfAnyForwarderHaveAProblem
	}
}

// AllowAgentOrDefault resolves the AllowAgent tri-state to its
// documented default (true).
func (o *Options) AllowAgentOrDefault() bool {
	if o.AllowAgent == nil {
		return DefaultAllowAgent
	}
	return *o.AllowAgent
}

// ThreadedOrDefault resolves the Threaded tri-state to its documented
// default (true).
func (o *Options) ThreadedOrDefault() bool {
	if o.Threaded == nil {
		return DefaultThreaded
	}
	return *o.Threaded
}

// KeepaliveOrDefault resolves SetKeepalive to its documented default
// (5.0 seconds) when left at the zero value.
func (o *Options) KeepaliveOrDefault() float64 {
	if o.SetKeepalive == 0 {
		return DefaultKeepAliveInterval
	}
	return o.SetKeepalive
}

// HostPkeyDirectoriesOrDefault resolves the scan-directory list to its
// documented default (["~/.ssh"]).
func (o *Options) HostPkeyDirectoriesOrDefault() []string {
	if len(o.HostPkeyDirectories) == 0 {
		return []string{DefaultHostPkeyDirectory}
	}
	return o.HostPkeyDirectories
}

// Validate checks that the resolved options are internally consistent
// before any network I/O is attempted.
func (o *Options) Validate() error {
	if o.SSHAddressOrHost == "" {
		return fmt.Errorf("ssh_address_or_host is required")
	}
	if len(o.LocalBindAddresses) == 0 {
		return fmt.Errorf("at least one local_bind_address is required")
	}
	if len(o.RemoteBindAddresses) == 0 {
		return fmt.Errorf("at least one remote_bind_address is required")
	}
	if len(o.LocalBindAddresses) != len(o.RemoteBindAddresses) {
		return fmt.Errorf("local_bind_addresses and remote_bind_addresses must pair up 1:1, got %d and %d",
			len(o.LocalBindAddresses), len(o.RemoteBindAddresses))
	}
	return nil
}

// ── Address parsing helpers ───────────────────────────────────────────

// hostPortRe splits "host:port" allowing bracketed IPv6 literals.
var hostPortRe = regexp.MustCompile(`^(.*):(\d+)$`)

// SplitHostPort parses "host:port" into its parts. Unlike net.SplitHostPort
// it tolerates a bare "host" with no colon by returning port 0 ("assign"
// on the local side, "use default" on the gateway side), since several
// spec.md option strings allow an implicit port.
func SplitHostPort(spec string) (host string, port int, err error) {
	if spec == "" {
		return "", 0, fmt.Errorf("empty address")
	}
	m := hostPortRe.FindStringSubmatch(spec)
	if m == nil {
		return spec, 0, nil
	}
	host = strings.TrimSuffix(strings.TrimPrefix(m[1], "["), "]")
	port, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", spec, err)
	}
	return host, port, nil
}

// ParseGatewaySpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222". Port defaults to DefaultSSHPort.
func ParseGatewaySpec(spec string) (user, host string, port int, err error) {
	rest := spec
	if idx := strings.IndexByte(spec, '@'); idx >= 0 {
		user = spec[:idx]
		rest = spec[idx+1:]
	}
	host, port, err = SplitHostPort(rest)
	if err != nil {
		return "", "", 0, err
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("gateway host is required")
	}
	if port == 0 {
		port = DefaultSSHPort
	}
	return user, host, port, nil
}
