//go:build !linux

package relay

import (
	"errors"
	"syscall"
)

const TTLSupported = false

func setTTL(_ syscall.Conn, _ int) (func(), error) {
	return nil, errors.New("ttl manipulation is only supported on linux")
}
