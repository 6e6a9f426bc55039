package tunnel

// session.go implements the SSH Session Manager of spec.md §4.C: dial
// the gateway, authenticate, enforce the configured host-key policy,
// and hand out direct-tcpip channels to the Forward Handler. It
// replaces the teacher's SSHTunnel/SSHConfig pair with the same
// dial → handshake → monitor shape, generalized to the Session state
// machine and three host-key policies.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	ncerr "sshtunnel/internal/errors"
	"sshtunnel/util"
)

// SessionConfig holds everything needed to dial and authenticate to
// one SSH gateway (spec.md §3 SessionConfig).
type SessionConfig struct {
	User string
	Host string
	Port int

	Auth *AuthConfig

	HostKeyPolicy      HostKeyPolicy
	KnownHostsFile     string // RequireKnown; default ~/.ssh/known_hosts
	PinnedFingerprint  string // RequireSpecific: hex SHA256 of the key; case, colons and a "SHA256:" prefix are ignored

	ConnTimeout      time.Duration
	KeepaliveInterval time.Duration // 0 disables periodic keepalives

	// ProxyDialAddress, when set, is dialed instead of Host:Port for the
	// raw TCP leg; the outer proxy is expected to relay bytes to the
	// gateway transparently (spec.md §6 ssh_proxy — no SOCKS/HTTP
	// negotiation is performed, matching the documented Non-goal).
	ProxyDialAddress string
}

func (c *SessionConfig) gateway() string {
	return util.FormatAddr(c.Host, c.Port)
}

// Session wraps an authenticated *ssh.Client and tracks the five-state
// lifecycle of spec.md §3 (unauth → authenticating → ready → closing →
// closed).
type Session struct {
	cfg    *SessionConfig
	logger *util.Logger

	mu    sync.RWMutex
	state SessionState
	client *ssh.Client

	stopKeepalive chan struct{}
}

// NewSession constructs a Session in the unauth state. Call Open to
// dial and authenticate.
func NewSession(cfg *SessionConfig, logger *util.Logger) *Session {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &Session{cfg: cfg, logger: logger, state: SessionUnauth}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Open dials the gateway over TCP, then hands off to openOverConn to
// authenticate and complete the handshake. It is safe to call at most
// once per Session.
func (s *Session) Open(ctx context.Context) error {
	gw := s.cfg.gateway()

	dialAddr := gw
	if s.cfg.ProxyDialAddress != "" {
		dialAddr = s.cfg.ProxyDialAddress
	}

	var dialer net.Dialer
	tcpConn, err := dialer.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		s.setState(SessionClosed)
		return ncerr.Wrap("dial", dialAddr, err)
	}

	return s.openOverConn(tcpConn)
}

// openOverConn authenticates and completes the SSH handshake over an
// already-open net.Conn — a raw TCP dial for the first hop of a
// chain, or a direct-tcpip channel opened on the previous hop's
// session for every subsequent one (spec.md §4.H). It is safe to call
// at most once per Session.
func (s *Session) openOverConn(conn net.Conn) error {
	s.setState(SessionAuthenticating)

	gw := s.cfg.gateway()

	methods, err := BuildCredentials(s.cfg.Auth, gw)
	if err != nil {
		conn.Close() //nolint:errcheck
		s.setState(SessionClosed)
		return err
	}

	hostKeyCB, err := buildHostKeyCallback(s.cfg)
	if err != nil {
		conn.Close() //nolint:errcheck
		s.setState(SessionClosed)
		return &ncerr.HostKeyError{Gateway: gw, Policy: s.cfg.HostKeyPolicy.String(), Reason: err.Error()}
	}

	clientCfg := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCB,
		Timeout:         s.cfg.ConnTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, gw, clientCfg)
	if err != nil {
		conn.Close() //nolint:errcheck
		s.setState(SessionClosed)
		var hkErr *ncerr.HostKeyError
		if ncerr.As(err, &hkErr) {
			return hkErr
		}
		if isKnownHostsErr(err) {
			return &ncerr.HostKeyError{Gateway: gw, Policy: s.cfg.HostKeyPolicy.String(), Reason: err.Error()}
		}
		return &ncerr.AuthenticationError{Gateway: gw, Last: err}
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	s.mu.Lock()
	s.client = client
	s.state = SessionReady
	s.mu.Unlock()

	if s.cfg.KeepaliveInterval > 0 {
		s.stopKeepalive = make(chan struct{})
		go s.keepaliveLoop()
	}

	s.logger.Debug("session: ready %s as %s", gw, s.cfg.User)
	return nil
}

// OpenDirectTCPIP opens a direct-tcpip channel to remote through this
// session (spec.md §4.C). It fails fast with ErrTunnelClosed if the
// session has been closed, or ErrNotConnected if it simply hasn't
// finished the handshake yet.
func (s *Session) OpenDirectTCPIP(remote Address) (net.Conn, error) {
	s.mu.RLock()
	client := s.client
	state := s.state
	s.mu.RUnlock()

	if state == SessionClosed || state == SessionClosing {
		return nil, ncerr.ErrTunnelClosed
	}
	if state != SessionReady || client == nil {
		return nil, ncerr.ErrNotConnected
	}

	conn, err := client.Dial("tcp", remote.String())
	if err != nil {
		return nil, ncerr.NewSessionError(s.cfg.gateway(), fmt.Errorf("direct-tcpip %s: %w", remote, err))
	}
	return conn, nil
}

// UnderlyingClient exposes the raw *ssh.Client for components — such
// as the multi-hop chain — that need to open nested sessions on top of
// this one.
func (s *Session) UnderlyingClient() *ssh.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Close transitions the session to closing, then closed, releasing the
// underlying SSH connection. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == SessionClosed || s.state == SessionClosing {
		s.mu.Unlock()
		return nil
	}
	s.state = SessionClosing
	client := s.client
	stop := s.stopKeepalive
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	var err error
	if client != nil {
		err = client.Close()
	}

	s.setState(SessionClosed)
	return err
}

// keepaliveLoop sends periodic no-op global requests to keep NAT
// mappings and idle gateways from dropping the session, and detects a
// dead connection promptly instead of waiting for a TCP timeout.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopKeepalive:
			return
		case <-ticker.C:
			s.mu.RLock()
			client := s.client
			s.mu.RUnlock()
			if client == nil {
				return
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				s.logger.Debug("session: keepalive failed for %s: %v", s.cfg.gateway(), err)
				client.Close() //nolint:errcheck
				s.setState(SessionClosed)
				return
			}
		}
	}
}

// ── host-key policy ──────────────────────────────────────────────────

func buildHostKeyCallback(cfg *SessionConfig) (ssh.HostKeyCallback, error) {
	switch cfg.HostKeyPolicy {
	case AcceptAny:
		//nolint:gosec // explicit opt-out requested by the caller
		return ssh.InsecureIgnoreHostKey(), nil

	case RequireSpecific:
		want := normalizeFingerprint(cfg.PinnedFingerprint)
		if want == "" {
			return nil, fmt.Errorf("require-specific policy needs a pinned fingerprint")
		}
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			got := hexFingerprint(key)
			if got != want {
				return &ncerr.HostKeyError{Gateway: hostname, Policy: RequireSpecific.String(),
					Reason: fmt.Sprintf("fingerprint %s does not match pinned %s", got, want)}
			}
			return nil
		}, nil

	default: // RequireKnown
		khFile := cfg.KnownHostsFile
		if khFile == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("locating home directory: %w", err)
			}
			khFile = filepath.Join(home, ".ssh", "known_hosts")
		}
		cb, err := knownhosts.New(khFile)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts from %s: %w", khFile, err)
		}
		return cb, nil
	}
}

func isKnownHostsErr(err error) bool {
	_, ok := err.(*knownhosts.KeyError)
	return ok
}

// hexFingerprint computes the hex-encoded SHA256 digest of key, the
// format require-specific pinning compares against (spec.md §4.C:
// "case-insensitive hex, colons optional").
func hexFingerprint(key ssh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return hex.EncodeToString(sum[:])
}

// normalizeFingerprint lowercases a pinned fingerprint and strips any
// colon separators or a "sha256:" prefix, so callers may supply either
// plain hex or a colon-delimited form.
func normalizeFingerprint(fp string) string {
	fp = strings.ToLower(strings.TrimSpace(fp))
	fp = strings.ReplaceAll(fp, ":", "")
	fp = strings.TrimPrefix(fp, "sha256")
	return fp
}
