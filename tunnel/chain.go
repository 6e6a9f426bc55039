package tunnel

// chain.go implements the Multi-hop Gateway Chain of spec.md §4.H:
// given an ordered list of gateways G1..Gn, open S1 to G1 directly,
// then for each subsequent hop open a direct-tcpip channel on the
// previous session and wrap it as the net.Conn the next session's SSH
// handshake runs over. Rules attach only to the final hop's session.
//
// ssh.NewClientConn accepts any net.Conn, which is what makes
// tunneling a second handshake through a direct-tcpip channel
// possible — the same technique the teacher uses to dial through its
// single session (tunnel/ssh.go's Connect), generalized here to chain
// arbitrarily many hops.

import (
	"context"
	"fmt"

	ncerr "sshtunnel/internal/errors"
	"sshtunnel/internal/retry"
	"sshtunnel/util"
)

// Chain holds every hop's Session in dial order: the first hop (reached
// directly by the client) first, the final hop (where rules attach) last.
type Chain struct {
	sessions []*Session
}

// OuterSession returns the final hop's session — the outer session that
// rules attach to (spec.md §4.H: "Rules attach to Sn only").
func (c *Chain) OuterSession() *Session {
	return c.sessions[len(c.sessions)-1]
}

// Close closes every session from the final hop back to the first (spec.md
// §4.H: "close Sn first, then Sn-1, ..., S1").
func (c *Chain) Close() error {
	var first error
	for i := len(c.sessions) - 1; i >= 0; i-- {
		if err := c.sessions[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenChain opens each hop in order, wrapping hop i's direct-tcpip
// channel to hop i+1's address as the transport the next session's
// handshake runs over. A failure at any hop unwinds (closes) every
// session opened so far before returning.
func OpenChain(ctx context.Context, hops []*SessionConfig, logger *util.Logger) (*Chain, error) {
	if len(hops) == 0 {
		return nil, fmt.Errorf("chain: at least one hop is required")
	}

	chain := &Chain{}

	for i, hopCfg := range hops {
		session := NewSession(hopCfg, logger)

		if i == 0 {
			if err := session.Open(ctx); err != nil {
				return nil, err
			}
			chain.sessions = append(chain.sessions, session)
			continue
		}

		prev := chain.sessions[i-1]
		remote := Address{Host: hopCfg.Host, Port: hopCfg.Port}
		conn, err := prev.OpenDirectTCPIP(remote)
		if err != nil {
			chain.Close() //nolint:errcheck
			return nil, ncerr.WrapSSH("channel", hopCfg.Host, hopCfg.Port, fmt.Errorf("opening hop %d channel: %w", i+1, err))
		}

		if err := session.openOverConn(conn); err != nil {
			chain.Close() //nolint:errcheck
			return nil, err
		}
		chain.sessions = append(chain.sessions, session)
	}

	return chain, nil
}

// OpenChainWithRetry retries the whole OpenChain under an exponential
// backoff (spec.md §9's opt-in resilience knob): a failed attempt
// unwinds every opened hop and the next attempt starts again from the
// first hop. The Forwarder uses it only when ForwarderConfig.RetryAttempts
// is above 1.
func OpenChainWithRetry(ctx context.Context, hops []*SessionConfig, logger *util.Logger, b *retry.Backoff) (*Chain, error) {
	var chain *Chain
	err := b.Do(ctx, func(attempt int) error {
		c, err := OpenChain(ctx, hops, logger)
		if err != nil {
			logger.Debug("chain: attempt %d failed: %v", attempt, err)
			// Auth and host-key failures aren't transient: retrying the
			// same credential or the same mismatched key wastes the whole
			// backoff budget on an outcome that can't change.
			if !ncerr.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		chain = c
		return nil
	})
	return chain, err
}

