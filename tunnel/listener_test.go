package tunnel

import (
	"context"
	"net"
	"testing"
	"time"

	"sshtunnel/internal/metrics"
	"sshtunnel/util"
)

func TestListener_StartAndAccept(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer echoLn.Close() //nolint:errcheck
	go func() {
		for {
			conn, err := echoLn.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close() //nolint:errcheck
				buf := make([]byte, 64)
				n, _ := c.Read(buf)
				c.Write(buf[:n]) //nolint:errcheck
			}(conn)
		}
	}()

	clientConn, serverConn := connPair(t)
	hostKey := testGatewayKey(t)
	go serveTestGateway(t, serverConn, hostKey, echoLn.Addr().String())

	session := NewSession(&SessionConfig{
		Host: "unused", Port: 22,
		Auth:          &AuthConfig{Password: "anything"},
		HostKeyPolicy: AcceptAny,
	}, util.NewLogger(0))
	if err := session.openOverConn(clientConn); err != nil {
		t.Fatalf("openOverConn: %v", err)
	}
	defer session.Close() //nolint:errcheck

	rule := ForwardingRule{
		Local:  Address{Host: "127.0.0.1", Port: 0},
		Remote: Address{Host: "127.0.0.1", Port: 1},
	}
	logger := util.NewLogger(0)
	handler := NewHandler(session, rule.Remote, rule.Local.String(), logger, metrics.New(), 50*time.Millisecond)
	ln := NewListener(rule, handler, logger, metrics.New())

	if err := ln.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ln.State() != ListenerActive {
		t.Fatalf("state = %v, want active", ln.State())
	}

	conn, err := net.Dial("tcp", ln.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial local listener: %v", err)
	}
	defer conn.Close() //nolint:errcheck

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("expected echo: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q", buf)
	}

	if err := ln.Stop(2*time.Second, false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if ln.State() != ListenerStopped {
		t.Fatalf("state = %v, want stopped", ln.State())
	}
}

func TestListener_Start_BindFailure(t *testing.T) {
	// Bind the port first so the listener under test collides with it.
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close() //nolint:errcheck

	addr := occupied.Addr().(*net.TCPAddr)
	rule := ForwardingRule{
		Local:  Address{Host: "127.0.0.1", Port: addr.Port},
		Remote: Address{Host: "127.0.0.1", Port: 1},
	}
	logger := util.NewLogger(0)
	ln := NewListener(rule, nil, logger, metrics.New())

	err = ln.Start(context.Background())
	if err == nil {
		t.Fatal("expected bind failure")
	}
	if ln.State() != ListenerFailed {
		t.Fatalf("state = %v, want failed", ln.State())
	}
}

func TestListener_Stop_Idempotent(t *testing.T) {
	rule := ForwardingRule{
		Local:  Address{Host: "127.0.0.1", Port: 0},
		Remote: Address{Host: "127.0.0.1", Port: 1},
	}
	logger := util.NewLogger(0)
	ln := NewListener(rule, nil, logger, metrics.New())
	if err := ln.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := ln.Stop(time.Second, true); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := ln.Stop(time.Second, true); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
