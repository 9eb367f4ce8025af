package socks5

import (
	"context"
	"errors"
	"net"
	"syscall"

	txsocks5 "github.com/txthinking/socks5"
)

// Wire constants re-exported so callers don't need the library import.
const (
	CmdConnect = txsocks5.CmdConnect

	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6

	RepSuccess             = txsocks5.RepSuccess
	RepServerFailure       = txsocks5.RepServerFailure
	RepHostUnreachable     = txsocks5.RepHostUnreachable
	RepConnectionRefused   = txsocks5.RepConnectionRefused
	RepTTLExpired          = txsocks5.RepTTLExpired
	RepCommandNotSupported = txsocks5.RepCommandNotSupported
)

// ReplyCode maps a resolution or dial failure to the nearest SOCKS5 reply
// code: unresolvable names are host-unreachable, refused connections are
// connection-refused, timeouts are TTL-expired, anything else is the general
// failure code. This mapping is a documented policy choice; clients mostly
// care about success versus non-success.
func ReplyCode(err error) byte {
	if err == nil {
		return RepSuccess
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return RepTTLExpired
		}
		return RepHostUnreachable
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return RepConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return RepHostUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return RepTTLExpired
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RepTTLExpired
	}

	return RepServerFailure
}

func newZeroAddrReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}
