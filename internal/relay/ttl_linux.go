//go:build linux

package relay

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// TTLSupported reports whether decoy writes can carry a reduced TTL on
// this platform.
const TTLSupported = true

// setTTL lowers the IP TTL (or IPv6 hop limit) on conn's socket and returns
// a func restoring the previous value.
func setTTL(conn syscall.Conn, ttl int) (restore func(), err error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	level, opt := unix.IPPROTO_IP, unix.IP_TTL
	prev := 0

	var ctrlErr error
	err = rc.Control(func(fd uintptr) {
		prev, ctrlErr = unix.GetsockoptInt(int(fd), level, opt)
		if ctrlErr != nil {
			level, opt = unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS
			prev, ctrlErr = unix.GetsockoptInt(int(fd), level, opt)
		}
		if ctrlErr != nil {
			return
		}
		ctrlErr = unix.SetsockoptInt(int(fd), level, opt, ttl)
	})
	if err == nil {
		err = ctrlErr
	}
	if err != nil {
		return nil, err
	}

	restore = func() {
		_ = rc.Control(func(fd uintptr) {
			_ = unix.SetsockoptInt(int(fd), level, opt, prev)
		})
	}
	return restore, nil
}
