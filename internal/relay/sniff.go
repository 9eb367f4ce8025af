package relay

import (
	"bytes"
)

// IsTLSClientHello reports whether p starts with a TLS handshake record in
// a version range a ClientHello would use.
func IsTLSClientHello(p []byte) bool {
	if len(p) < 5 {
		return false
	}
	version := uint16(p[1])<<8 | uint16(p[2])
	return p[0] == 0x16 && version >= 0x0301 && version <= 0x0304
}

// SNIOffset walks a TLS ClientHello up to the server_name extension and
// returns the offset where the hostname bytes begin.
func SNIOffset(p []byte) (int, bool) {
	if !IsTLSClientHello(p) || len(p) < 43 {
		return 0, false
	}

	// Record header, handshake header, client version, random.
	off := 5 + 4 + 2 + 32

	// Session ID.
	if len(p) < off+1 {
		return 0, false
	}
	off += 1 + int(p[off])

	// Cipher suites.
	if len(p) < off+2 {
		return 0, false
	}
	off += 2 + int(uint16(p[off])<<8|uint16(p[off+1]))

	// Compression methods.
	if len(p) < off+1 {
		return 0, false
	}
	off += 1 + int(p[off])

	// Extensions.
	if len(p) < off+2 {
		return 0, false
	}
	extEnd := off + 2 + int(uint16(p[off])<<8|uint16(p[off+1]))
	off += 2

	for off < extEnd && off < len(p)-4 {
		extType := uint16(p[off])<<8 | uint16(p[off+1])
		off += 2
		if len(p) < off+2 {
			break
		}
		extLen := int(uint16(p[off])<<8 | uint16(p[off+1]))
		off += 2

		// Extension 0x0000 is server_name.
		if extType == 0x0000 {
			if len(p) < off+3 {
				break
			}
			off += 2 // server name list length
			if p[off] != 0x00 {
				break
			}
			off++ // name type, 0x00 = hostname
			if len(p) >= off+2 {
				return off + 2, true
			}
			break
		}

		off += extLen
	}

	return 0, false
}

var hostHeader = []byte("Host: ")

// HostHeaderOffset returns the offset just past "Host: " in an HTTP
// request, where the host value begins.
func HostHeaderOffset(p []byte) (int, bool) {
	i := bytes.Index(p, hostHeader)
	if i < 0 {
		return 0, false
	}
	return i + len(hostHeader), true
}
