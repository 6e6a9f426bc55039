package tunnel

// forwarder.go implements the Tunnel Forwarder orchestrator of
// spec.md §4.F: owns the session and every listener, drives the
// Created → Starting → Running → Stopping → Stopped state machine, and
// enforces the readiness policy (mute_exceptions) and the bounded stop
// deadline (TUNNEL_TIMEOUT).
//
// The single-mutex-guarding-only-control-state discipline follows the
// teacher's SSHTunnel (mu never held across blocking I/O): Start and
// Stop take the lock only to read or flip state and the listener map,
// never while dialing, accepting, or bridging.

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"sshtunnel/internal/metrics"
	"sshtunnel/internal/retry"
	"sshtunnel/util"

	ncerr "sshtunnel/internal/errors"
)

// ForwarderConfig configures one Forwarder (spec.md §3 ForwarderConfig).
type ForwarderConfig struct {
	Session *SessionConfig
	Chain   []*SessionConfig // spec.md §4.H; empty means no chaining

	Rules []ForwardingRule

	MuteExceptions bool

	SSHTimeout    time.Duration // per-socket read slice; default 100ms
	TunnelTimeout time.Duration // graceful-stop bound; default 10s

	// RetryAttempts gates the opt-in multi-hop dial resilience knob
	// (spec.md §9): 1 disables retrying and matches the spec's default
	// immediate-abort behavior.
	RetryAttempts int

	Logger  *util.Logger
	Metrics *metrics.Collector

	// Breaker, when set, is one circuit breaker shared by every rule's
	// CheckTunnels probe; it never drives automatic reconnection.
	Breaker *retry.CircuitBreaker
}

// Forwarder is the orchestrator described in spec.md §4.F: it owns the
// session chain and one Listener per rule.
type Forwarder struct {
	cfg *ForwarderConfig

	mu        sync.Mutex
	state     ForwarderState
	chain     *Chain
	listeners map[string]*Listener // keyed by rule.Local.String()
	tunnelUp  map[string]bool

	cancel context.CancelFunc
}

// NewForwarder validates cfg.Rules up front and returns a Forwarder in
// the Created state.
func NewForwarder(cfg *ForwarderConfig) (*Forwarder, error) {
	if err := CheckRules(cfg.Rules); err != nil {
		return nil, err
	}
	if cfg.SSHTimeout == 0 {
		cfg.SSHTimeout = 100 * time.Millisecond
	}
	if cfg.TunnelTimeout == 0 {
		cfg.TunnelTimeout = 10 * time.Second
	}
	return &Forwarder{
		cfg:       cfg,
		state:     StateCreated,
		listeners: make(map[string]*Listener),
		tunnelUp:  make(map[string]bool),
	}, nil
}

// State returns the orchestrator's current lifecycle state.
func (f *Forwarder) State() ForwarderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// TunnelIsUp returns a snapshot of the last-known up/down state per
// rule, keyed by the rule's local bind string.
func (f *Forwarder) TunnelIsUp() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.tunnelUp))
	for k, v := range f.tunnelUp {
		out[k] = v
	}
	return out
}

// Start implements spec.md §4.F start(): validate, authenticate,
// establish the (possibly chained) session, start every listener, and
// apply the readiness policy.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateCreated && f.state != StateStopped {
		f.mu.Unlock()
		return fmt.Errorf("forwarder: cannot start from state %s", f.state)
	}
	f.state = StateStarting
	f.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	chain, err := f.openChain(runCtx)
	if err != nil {
		cancel()
		f.setState(StateStopped)
		return err
	}

	f.mu.Lock()
	f.chain = chain
	f.cancel = cancel
	f.mu.Unlock()

	outer := chain.OuterSession()

	type result struct {
		rule ForwardingRule
		ln   *Listener
		err  error
	}
	results := make(chan result, len(f.cfg.Rules))
	var wg sync.WaitGroup

	for _, rule := range f.cfg.Rules {
		rule := rule
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler := NewHandler(outer, rule.Remote, rule.Local.String(), f.cfg.Logger, f.cfg.Metrics, f.cfg.SSHTimeout)
			ln := NewListener(rule, handler, f.cfg.Logger, f.cfg.Metrics)
			err := ln.Start(runCtx)
			results <- result{rule: rule, ln: ln, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var failures []*ncerr.ListenerError
	f.mu.Lock()
	for r := range results {
		key := r.rule.Local.String()
		f.listeners[key] = r.ln
		if r.err != nil {
			f.tunnelUp[key] = false
			var lerr *ncerr.ListenerError
			if ncerr.As(r.err, &lerr) {
				failures = append(failures, lerr)
			} else {
				failures = append(failures, &ncerr.ListenerError{LocalBind: key, Err: r.err})
			}
		} else {
			f.tunnelUp[key] = true
		}
	}
	f.mu.Unlock()

	if len(failures) > 0 {
		if !f.cfg.MuteExceptions {
			f.stopListeners(true)
			chain.Close() //nolint:errcheck
			cancel()
			f.setState(StateStopped)
			return &ncerr.AggregateListenerError{Errors: failures}
		}
		f.cfg.Logger.Warn("forwarder: %d of %d listeners failed (mute_exceptions=true)", len(failures), len(f.cfg.Rules))
	}

	f.setState(StateRunning)
	return nil
}

// openChain establishes every hop in cfg.Chain (outermost first) and
// finally the primary session, wiring each as the transport for the
// next (spec.md §4.H).
func (f *Forwarder) openChain(ctx context.Context) (*Chain, error) {
	hops := append(append([]*SessionConfig{}, f.cfg.Chain...), f.cfg.Session)
	if f.cfg.RetryAttempts > 1 {
		return OpenChainWithRetry(ctx, hops, f.cfg.Logger, &retry.Backoff{MaxAttempts: f.cfg.RetryAttempts})
	}
	return OpenChain(ctx, hops, f.cfg.Logger)
}

// Stop implements spec.md §4.F stop(force): signal every listener to
// stop, wait up to TunnelTimeout for a graceful drain (unless force),
// then close the session chain outer to inner. Calling Stop on a
// non-running forwarder is a no-op.
func (f *Forwarder) Stop(force bool) error {
	f.mu.Lock()
	if f.state != StateRunning {
		f.mu.Unlock()
		return nil
	}
	f.state = StateStopping
	cancel := f.cancel
	chain := f.chain
	f.mu.Unlock()

	// A forced stop severs in-flight connections immediately by
	// cancelling runCtx before the listeners are asked to drain.
	// A graceful stop defers the cancel until after stopListeners'
	// bounded wait, so bridgeConns' own ctx.Done() doesn't cut a
	// drain short that Listener.Stop was given time to complete.
	if force && cancel != nil {
		cancel()
	}

	stopErr := f.stopListeners(force)

	if cancel != nil {
		cancel()
	}

	if chain != nil {
		chain.Close() //nolint:errcheck
	}

	f.setState(StateStopped)
	return stopErr
}

func (f *Forwarder) stopListeners(force bool) error {
	f.mu.Lock()
	listeners := make([]*Listener, 0, len(f.listeners))
	for _, ln := range f.listeners {
		listeners = append(listeners, ln)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(listeners))
	for _, ln := range listeners {
		ln := ln
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ln.Stop(f.cfg.TunnelTimeout, force)
		}()
	}
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Restart implements spec.md §4.F restart(): stop() then start().
func (f *Forwarder) Restart(ctx context.Context) error {
	if err := f.Stop(false); err != nil {
		f.cfg.Logger.Debug("forwarder: restart stop reported: %v", err)
	}
	f.cfg.Metrics.TunnelReconnect()
	return f.Start(ctx)
}

// CheckTunnels refreshes TunnelIsUp by dialing each listener's bound
// address and immediately closing the probe connection. It is
// diagnostic only — it never attempts recovery. With the optional
// CircuitBreaker configured, every probe runs through it: a failed
// probe still reports its rule down at once, and while the breaker is
// open the probes are skipped and every rule reports down.
func (f *Forwarder) CheckTunnels() map[string]bool {
	f.mu.Lock()
	listeners := make(map[string]*Listener, len(f.listeners))
	for k, ln := range f.listeners {
		listeners[k] = ln
	}
	f.mu.Unlock()

	up := make(map[string]bool, len(listeners))
	for key, ln := range listeners {
		probe := func() error { return probeListener(ln) }
		var err error
		if f.cfg.Breaker != nil {
			err = f.cfg.Breaker.Execute(probe)
			if err != nil && f.cfg.Breaker.CurrentState() == retry.StateOpen {
				f.cfg.Logger.Debug("forwarder: %s: %v", key, ncerr.ErrCircuitOpen)
			}
		} else {
			err = probe()
		}
		up[key] = err == nil
	}

	f.mu.Lock()
	for k, v := range up {
		f.tunnelUp[k] = v
	}
	f.mu.Unlock()

	f.cfg.Metrics.RecordHealthCheck()
	return up
}

func probeListener(ln *Listener) error {
	addr := ln.LocalAddr()
	network := "tcp"
	dest := addr.String()
	if addr.IsSocket() {
		network = "unix"
	}
	conn, err := net.DialTimeout(network, dest, 2*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (f *Forwarder) setState(st ForwarderState) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
}

// Run implements the scoped-acquisition pattern of spec.md §4.F: it
// starts the forwarder, invokes fn, and force-stops on every exit
// path — including a panic unwinding through fn, which Go's defer
// semantics re-raise automatically after Stop runs.
func Run(ctx context.Context, cfg *ForwarderConfig, fn func(*Forwarder) error) error {
	f, err := NewForwarder(cfg)
	if err != nil {
		return err
	}
	if err := f.Start(ctx); err != nil {
		return err
	}
	defer f.Stop(true) //nolint:errcheck

	return fn(f)
}
