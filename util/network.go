package util

import (
	"net"
	"strconv"
)

// FormatAddr returns "host:port", bracketing an IPv6 host the way
// net.JoinHostPort does (plain string concatenation gets this wrong
// for any IPv6 literal).
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
