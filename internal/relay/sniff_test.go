package relay

import (
	"testing"
)

// buildClientHello assembles a minimal TLS 1.2 ClientHello record carrying a
// server_name extension for host.
func buildClientHello(t *testing.T, host string) []byte {
	t.Helper()

	hostLen := len(host)
	sniBody := make([]byte, 0, 5+hostLen)
	sniBody = append(sniBody, byte((hostLen+3)>>8), byte(hostLen+3)) // server name list length
	sniBody = append(sniBody, 0x00)                                  // name type: hostname
	sniBody = append(sniBody, byte(hostLen>>8), byte(hostLen))
	sniBody = append(sniBody, host...)

	ext := make([]byte, 0, 4+len(sniBody))
	ext = append(ext, 0x00, 0x00) // extension type: server_name
	ext = append(ext, byte(len(sniBody)>>8), byte(len(sniBody)))
	ext = append(ext, sniBody...)

	body := make([]byte, 0, 64+len(ext))
	body = append(body, 0x03, 0x03)             // client version
	body = append(body, make([]byte, 32)...)    // random
	body = append(body, 0x00)                   // session id length
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher suites
	body = append(body, 0x01, 0x00)             // compression methods
	body = append(body, byte(len(ext)>>8), byte(len(ext)))
	body = append(body, ext...)

	hs := make([]byte, 0, 4+len(body))
	hs = append(hs, 0x01) // handshake type: client hello
	hs = append(hs, 0x00, byte(len(body)>>8), byte(len(body)))
	hs = append(hs, body...)

	rec := make([]byte, 0, 5+len(hs))
	rec = append(rec, 0x16, 0x03, 0x01)
	rec = append(rec, byte(len(hs)>>8), byte(len(hs)))
	rec = append(rec, hs...)
	return rec
}

func TestIsTLSClientHello(t *testing.T) {
	tests := []struct {
		name string
		p    []byte
		want bool
	}{
		{name: "client_hello", p: buildClientHello(t, "example.com"), want: true},
		{name: "bare_record_header", p: []byte{0x16, 0x03, 0x01, 0x00, 0x05}, want: true},
		{name: "application_data", p: []byte{0x17, 0x03, 0x03, 0x00, 0x05}, want: false},
		{name: "bad_version", p: []byte{0x16, 0x03, 0x05, 0x00, 0x05}, want: false},
		{name: "http", p: []byte("GET / HTTP/1.1"), want: false},
		{name: "short", p: []byte{0x16}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTLSClientHello(tt.p); got != tt.want {
				t.Fatalf("expected %v got %v", tt.want, got)
			}
		})
	}
}

func TestSNIOffset(t *testing.T) {
	host := "example.com"
	hello := buildClientHello(t, host)

	off, ok := SNIOffset(hello)
	if !ok {
		t.Fatal("expected to find the server name")
	}
	if got := string(hello[off : off+len(host)]); got != host {
		t.Fatalf("expected %q at offset %d got %q", host, off, got)
	}
}

func TestSNIOffsetOtherExtension(t *testing.T) {
	hello := buildClientHello(t, "example.com")
	// Rewrite the extension type so the walk finds no server_name.
	off, ok := SNIOffset(hello)
	if !ok {
		t.Fatal("expected to find the server name")
	}
	extType := off - 9 // back across name length, name type, list length, ext length
	hello[extType] = 0x00
	hello[extType+1] = 0x17

	if _, ok := SNIOffset(hello); ok {
		t.Fatal("expected no server name after retyping the extension")
	}
}

func TestSNIOffsetNotTLS(t *testing.T) {
	if _, ok := SNIOffset([]byte("GET / HTTP/1.1\r\n\r\n")); ok {
		t.Fatal("expected no server name in an HTTP request")
	}
}

func TestHostHeaderOffset(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")

	off, ok := HostHeaderOffset(req)
	if !ok {
		t.Fatal("expected to find the host header")
	}
	if got := string(req[off : off+len("example.com")]); got != "example.com" {
		t.Fatalf("expected host value at offset %d, got %q", off, got)
	}

	if _, ok := HostHeaderOffset([]byte("GET / HTTP/1.1\r\n\r\n")); ok {
		t.Fatal("expected no host header")
	}
}
