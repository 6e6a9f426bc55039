package tunnel

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "sshtunnel/internal/errors"
	"sshtunnel/internal/retry"
	"sshtunnel/util"
)

func TestOpenChain_SingleHop(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer echoLn.Close() //nolint:errcheck
	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n]) //nolint:errcheck
	}()

	gwLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer gwLn.Close() //nolint:errcheck
	hostKey := testGatewayKey(t)
	go func() {
		conn, err := gwLn.Accept()
		if err != nil {
			return
		}
		serveTestGateway(t, conn, hostKey, echoLn.Addr().String())
	}()

	addr := gwLn.Addr().(*net.TCPAddr)
	hops := []*SessionConfig{{
		Host: addr.IP.String(), Port: addr.Port,
		Auth:          &AuthConfig{Password: "anything"},
		HostKeyPolicy: AcceptAny,
	}}

	chain, err := OpenChain(context.Background(), hops, util.NewLogger(0))
	if err != nil {
		t.Fatalf("OpenChain: %v", err)
	}
	defer chain.Close() //nolint:errcheck

	if chain.OuterSession().State() != SessionReady {
		t.Fatal("outer session should be ready")
	}

	conn, err := chain.OuterSession().OpenDirectTCPIP(Address{Host: "127.0.0.1", Port: 1})
	if err != nil {
		t.Fatalf("OpenDirectTCPIP: %v", err)
	}
	defer conn.Close() //nolint:errcheck
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := conn.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q", buf)
	}
}

func TestOpenChain_EmptyHopsRejected(t *testing.T) {
	_, err := OpenChain(context.Background(), nil, util.NewLogger(0))
	if err == nil {
		t.Fatal("expected error for empty hop list")
	}
}

func TestOpenChainWithRetry_AuthFailureIsPermanent(t *testing.T) {
	gwLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer gwLn.Close() //nolint:errcheck
	hostKey := testGatewayKey(t)
	go func() {
		conn, err := gwLn.Accept()
		if err != nil {
			return
		}
		cfg := &ssh.ServerConfig{
			PasswordCallback: func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
				return nil, fmt.Errorf("rejected")
			},
		}
		cfg.AddHostKey(hostKey)
		ssh.NewServerConn(conn, cfg) //nolint:errcheck
	}()

	addr := gwLn.Addr().(*net.TCPAddr)
	hops := []*SessionConfig{{
		Host: addr.IP.String(), Port: addr.Port,
		Auth:          &AuthConfig{Password: "wrong"},
		HostKeyPolicy: AcceptAny,
	}}

	start := time.Now()
	_, err = OpenChainWithRetry(context.Background(), hops, util.NewLogger(0),
		&retry.Backoff{MaxAttempts: 5, InitialDelay: time.Second})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected authentication failure")
	}
	if !ncerr.As(err, new(*ncerr.AuthenticationError)) {
		t.Fatalf("expected *AuthenticationError, got %T: %v", err, err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("expected immediate abort via retry.Permanent, took %v", elapsed)
	}
}

func TestChain_Close_NeverOpenedSessions(t *testing.T) {
	s1 := NewSession(&SessionConfig{Host: "a", Port: 22, Auth: &AuthConfig{}}, util.NewLogger(0))
	s2 := NewSession(&SessionConfig{Host: "b", Port: 22, Auth: &AuthConfig{}}, util.NewLogger(0))

	chain := &Chain{sessions: []*Session{s1, s2}}
	if err := chain.Close(); err != nil {
		t.Fatalf("Close on never-opened sessions should not error: %v", err)
	}
	if s1.State() != SessionClosed || s2.State() != SessionClosed {
		t.Fatal("both sessions should end up closed")
	}
}
