package tunnel

// handler.go implements the Forward Handler of spec.md §4.D: given one
// accepted local connection, open a direct-tcpip channel on the
// session and shuttle bytes bidirectionally until either side closes
// or the forwarder is stopped.
//
// The bidirectional copy itself is adapted from the teacher's
// bridgeConns (tunnel/reverse_forwarder.go): two copy goroutines racing
// to a shared cancellation, generalized here to run toward the gateway
// instead of away from it, and to record a HandlerError instead of
// logging and returning silently. Per spec.md §5, every read carries a
// short deadline (sshTimeout) so a cancelled ctx is noticed promptly
// even while a shuttle is blocked waiting for data.

import (
	"context"
	"net"
	"sync"
	"time"

	ncerr "sshtunnel/internal/errors"
	"sshtunnel/internal/metrics"
	"sshtunnel/util"
)

// Handler bridges each locally accepted connection to a direct-tcpip
// channel opened on a Session.
type Handler struct {
	session    *Session
	remote     Address
	localBind  string // for diagnostics and HandlerError.LocalBind
	logger     *util.Logger
	metrics    *metrics.Collector
	sshTimeout time.Duration // per-read deadline slice (spec.md §5 SSH_TIMEOUT)
}

// NewHandler builds a Handler for one forwarding rule's local side.
func NewHandler(session *Session, remote Address, localBind string, logger *util.Logger, m *metrics.Collector, sshTimeout time.Duration) *Handler {
	if sshTimeout <= 0 {
		sshTimeout = 100 * time.Millisecond
	}
	return &Handler{session: session, remote: remote, localBind: localBind, logger: logger, metrics: m, sshTimeout: sshTimeout}
}

// Handle owns local for its entire lifetime: it opens the matching
// direct-tcpip channel, bridges bytes, and closes both ends before
// returning. A channel-open failure is recorded as a *HandlerError via
// onError; a shuttle that ends on a read or write error just closes both
// ends. Nothing is propagated to the caller — one bad connection must
// never bring down the listener's accept loop (spec.md §7).
func (h *Handler) Handle(ctx context.Context, local net.Conn, onError func(error)) {
	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()
	defer local.Close() //nolint:errcheck

	remoteConn, err := h.session.OpenDirectTCPIP(h.remote)
	if err != nil {
		herr := &ncerr.HandlerError{LocalBind: h.localBind, Err: err}
		h.metrics.RecordError(herr.Error())
		if onError != nil {
			onError(herr)
		}
		h.logger.Debug("handler: %v", herr)
		return
	}
	defer remoteConn.Close() //nolint:errcheck

	in, out := bridgeConns(ctx, local, remoteConn, h.sshTimeout)
	h.metrics.BytesReceived(in)
	h.metrics.BytesSent(out)
	h.logger.Debug("handler: %s closed (in=%d out=%d)", h.localBind, in, out)
}

// bridgeConns copies data bidirectionally between a and b until one
// side's copy finishes (EOF or error) or ctx is cancelled, then closes
// both and returns the byte counts transferred in each direction.
func bridgeConns(ctx context.Context, a, b net.Conn, readTimeout time.Duration) (aToB, bToA int64) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		aToB = copySliced(ctx, b, a, readTimeout)
		cancel()
	}()

	go func() {
		defer wg.Done()
		bToA = copySliced(ctx, a, b, readTimeout)
		cancel()
	}()

	<-ctx.Done()
	a.Close() //nolint:errcheck
	b.Close() //nolint:errcheck
	wg.Wait()
	return aToB, bToA
}

// copySliced copies from src to dst in slices bounded by readTimeout,
// re-checking ctx between slices so a cancellation is noticed promptly
// instead of blocking on Read indefinitely (spec.md §5).
func copySliced(ctx context.Context, dst net.Conn, src net.Conn, readTimeout time.Duration) int64 {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	var total int64
	for {
		select {
		case <-ctx.Done():
			return total
		default:
		}

		src.SetReadDeadline(time.Now().Add(readTimeout)) //nolint:errcheck
		n, rerr := src.Read(*buf)
		if n > 0 {
			wn, werr := dst.Write((*buf)[:n])
			total += int64(wn)
			if werr != nil {
				return total
			}
		}
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				continue
			}
			return total
		}
	}
}
