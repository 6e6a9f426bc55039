package util

import (
	"bytes"
	"io"
	"net"
	"testing"
)

// BenchmarkPooledCopy measures throughput of a pool-backed copy loop,
// the same shape the tunnel handler's byte shuttle uses on its hot path.
func BenchmarkPooledCopy(b *testing.B) {
	// Create a TCP echo server.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c) //nolint:errcheck
			}(conn)
		}
	}()

	payload := bytes.Repeat([]byte("X"), DefaultBufSize)

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			b.Fatal(err)
		}

		buf := GetBuf()
		conn.Write(payload) //nolint:errcheck
		conn.(*net.TCPConn).CloseWrite() //nolint:errcheck
		for {
			n, rerr := conn.Read(*buf)
			if n == 0 || rerr != nil {
				break
			}
		}
		PutBuf(buf)
		conn.Close()
	}
}

// BenchmarkBufPool measures the allocation advantage of sync.Pool
// buffer reuse versus fresh allocation.
func BenchmarkBufPool(b *testing.B) {
	b.Run("pool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := GetBuf()
			_ = (*buf)[0]
			PutBuf(buf)
		}
	})
	b.Run("alloc", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := make([]byte, DefaultBufSize)
			_ = buf[0]
		}
	})
}
