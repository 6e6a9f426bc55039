package tunnel

// testgateway_test.go provides a minimal in-process SSH server used by
// session_test.go, handler_test.go, listener_test.go, and
// forwarder_test.go to exercise the real golang.org/x/crypto/ssh
// handshake and direct-tcpip channel path without a network round
// trip to a real sshd.
//
// The connPair/serveTestGateway shape is grounded on the same technique
// used to test SSH proxies in the wider example pack: a real TCP pipe
// (not net.Pipe, which deadlocks on the SSH version exchange) between
// an in-process client and server goroutine.

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"testing"

	"golang.org/x/crypto/ssh"
)

// connPair returns two ends of a real, already-connected TCP socket.
func connPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close() //nolint:errcheck

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server = <-accepted
	return client, server
}

// testGatewayKey generates a fresh ed25519 host key signer for one
// test server instance.
func testGatewayKey(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

// serveTestGateway runs a no-auth-required SSH server over conn that
// accepts direct-tcpip channel requests and dials dialTarget (an
// address that must actually be listening) for each one, bridging
// bytes until either side closes. It returns once the connection
// closes.
func serveTestGateway(t *testing.T, conn net.Conn, hostKey ssh.Signer, dialTarget string) {
	t.Helper()

	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(hostKey)

	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sconn.Close() //nolint:errcheck

	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			newCh.Reject(ssh.UnknownChannelType, "only direct-tcpip supported") //nolint:errcheck
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go ssh.DiscardRequests(requests)

		go func(ch ssh.Channel) {
			defer ch.Close() //nolint:errcheck
			target, err := net.Dial("tcp", dialTarget)
			if err != nil {
				return
			}
			defer target.Close() //nolint:errcheck

			done := make(chan struct{}, 2)
			go func() { io.Copy(target, ch); done <- struct{}{} }()   //nolint:errcheck
			go func() { io.Copy(ch, target); done <- struct{}{} }()   //nolint:errcheck
			<-done
		}(ch)
	}
}
