package tunnel

// listener.go implements the Local Listener of spec.md §4.E: one
// net.Listener per forwarding rule (TCP or, where supported, a UNIX
// domain socket), an accept loop that dispatches each connection to a
// Handler, and a bounded Stop.
//
// The accept-loop/dispatch shape and the done-channel Close pattern
// follow the teacher's sshForwardListener (tunnel/reverse_listener.go);
// this version binds locally instead of registering a remote
// forwarded-tcpip channel.

import (
	"context"
	"net"
	"sync"
	"time"

	ncerr "sshtunnel/internal/errors"
	"sshtunnel/internal/metrics"
	"sshtunnel/util"
)

// Listener owns one local bind address and forwards every accepted
// connection through handler.
type Listener struct {
	rule    ForwardingRule
	handler *Handler
	logger  *util.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	state ListenerState
	ln    net.Listener
	conns map[net.Conn]struct{} // accepted connections currently being handled

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewListener builds a Listener for rule; Start binds it.
func NewListener(rule ForwardingRule, handler *Handler, logger *util.Logger, m *metrics.Collector) *Listener {
	return &Listener{rule: rule, handler: handler, logger: logger, metrics: m, state: ListenerPending,
		conns: make(map[net.Conn]struct{}), done: make(chan struct{})}
}

func (l *Listener) trackConn(c net.Conn) {
	l.mu.Lock()
	l.conns[c] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) untrackConn(c net.Conn) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
}

// closeTrackedConns force-closes every connection currently in flight,
// unblocking any handler goroutine stuck in a read (spec.md §4.E: force
// "shuts down handler sockets to unblock any stuck reads").
func (l *Listener) closeTrackedConns() {
	l.mu.Lock()
	conns := make([]net.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		c.Close() //nolint:errcheck
	}
}

// State returns the listener's current lifecycle state.
func (l *Listener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start binds the local address and begins accepting connections in a
// background goroutine. It never returns ListenerPending: the result
// is either active (bind succeeded) or failed (wrapped as a
// *ListenerError).
func (l *Listener) Start(ctx context.Context) error {
	network, addr := "tcp", l.rule.Local.String()
	if l.rule.Local.IsSocket() {
		network, addr = "unix", l.rule.Local.Path
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		l.mu.Lock()
		l.state = ListenerFailed
		l.mu.Unlock()
		return &ncerr.ListenerError{LocalBind: l.rule.Local.String(), Err: err}
	}

	l.mu.Lock()
	l.ln = ln
	l.state = ListenerActive
	l.mu.Unlock()

	l.wg.Add(1)
	go l.acceptLoop(ctx)

	l.logger.Info("listener: %s -> %s active", l.rule.Local, l.rule.Remote)
	return nil
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return // Stop closed the listener; this is expected.
			default:
			}
			l.mu.Lock()
			l.state = ListenerFailed
			l.mu.Unlock()
			l.metrics.RecordError(err.Error())
			l.logger.Debug("listener: %s accept failed: %v", l.rule.Local, err)
			return
		}

		l.trackConn(conn)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.untrackConn(conn)
			l.handler.Handle(ctx, conn, func(err error) {
				l.logger.Debug("listener: %s handler error: %v", l.rule.Local, err)
			})
		}()
	}
}

// Stop closes the listener and waits, up to deadline, for in-flight
// connections to finish. If force is true, every tracked accepted
// connection is closed immediately to unblock a handler stuck in a
// read; if the deadline elapses on a graceful stop, the remaining
// handler goroutines are simply abandoned rather than force-closed.
func (l *Listener) Stop(deadline time.Duration, force bool) error {
	l.mu.Lock()
	ln := l.ln
	l.state = ListenerStopped
	l.mu.Unlock()

	l.stopOnce.Do(func() { close(l.done) })

	if ln != nil {
		ln.Close() //nolint:errcheck
	}

	if force {
		l.closeTrackedConns()
		return nil
	}
	if deadline <= 0 {
		return nil
	}

	waited := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-time.After(deadline):
		return &ncerr.ShutdownTimeout{Waited: deadline.String()}
	}
}

// LocalAddr reports the bound address, or the rule's configured local
// address if the listener has not bound one.
func (l *Listener) LocalAddr() Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return l.rule.Local
	}
	if l.rule.Local.IsSocket() {
		return l.rule.Local
	}
	tcpAddr, ok := l.ln.Addr().(*net.TCPAddr)
	if !ok {
		return l.rule.Local
	}
	return Address{Host: l.rule.Local.Host, Port: tcpAddr.Port}
}
