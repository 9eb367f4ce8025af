package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// State identifies where a handshake is in the SOCKS5 negotiation.
type State int

const (
	StateAwaitGreeting State = iota
	StateAwaitRequest
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitGreeting:
		return "await-greeting"
	case StateAwaitRequest:
		return "await-request"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrProtocol wraps malformed or out-of-spec wire input. The connection
	// is closed without a reply when it occurs.
	ErrProtocol = errors.New("socks5: protocol error")

	// ErrNoAcceptableMethod is returned when the client does not offer the
	// no-authentication method. A 0xFF reply has already been written.
	ErrNoAcceptableMethod = errors.New("socks5: no acceptable method")

	// ErrUnsupportedCommand is returned for BIND and UDP ASSOCIATE. A
	// command-not-supported reply has already been written.
	ErrUnsupportedCommand = errors.New("socks5: unsupported command")
)

// DestinationRequest is the parsed destination of a CONNECT request: the
// address kind as it appeared on the wire, the raw address bytes (4 for IPv4,
// 16 for IPv6, the name itself for domains), and the port. Immutable once
// parsed.
type DestinationRequest struct {
	Atyp byte
	Addr []byte
	Port uint16
}

// IsDomain reports whether the destination needs name resolution.
func (d *DestinationRequest) IsDomain() bool {
	return d.Atyp == txsocks5.ATYPDomain
}

// Host returns the destination host: the literal IP in text form, or the
// domain name.
func (d *DestinationRequest) Host() string {
	if d.IsDomain() {
		return string(d.Addr)
	}
	return net.IP(d.Addr).String()
}

// Address returns the destination as a dialable host:port string.
func (d *DestinationRequest) Address() string {
	return net.JoinHostPort(d.Host(), strconv.Itoa(int(d.Port)))
}

// NewDestination builds a DestinationRequest from a host and port obtained
// outside a SOCKS5 exchange, classifying host as a literal IP or a domain.
func NewDestination(host string, port uint16) *DestinationRequest {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return &DestinationRequest{Atyp: txsocks5.ATYPIPv4, Addr: ip4, Port: port}
		}
		return &DestinationRequest{Atyp: txsocks5.ATYPIPv6, Addr: ip.To16(), Port: port}
	}
	return &DestinationRequest{Atyp: txsocks5.ATYPDomain, Addr: []byte(host), Port: port}
}

// Handshake drives the server side of one SOCKS5 negotiation. Greet consumes
// the method-selection exchange, Request consumes and validates the CONNECT
// request, and Succeed or Fail writes the terminal reply. The caller decides
// between Succeed and Fail after attempting resolution, so the state machine
// stays in AwaitRequest until then.
type Handshake struct {
	rw    io.ReadWriter
	state State
}

func NewHandshake(rw io.ReadWriter) *Handshake {
	return &Handshake{rw: rw, state: StateAwaitGreeting}
}

// State returns the current negotiation state.
func (h *Handshake) State() State { return h.state }

// Greet reads the client greeting and selects the no-authentication method.
// If the client does not offer it, a no-acceptable-methods reply is written
// and ErrNoAcceptableMethod returned; malformed input fails the handshake
// without a reply.
func (h *Handshake) Greet() error {
	if h.state != StateAwaitGreeting {
		return h.fail(fmt.Errorf("%w: greet in state %s", ErrProtocol, h.state))
	}

	neg, err := txsocks5.NewNegotiationRequestFrom(h.rw)
	if err != nil {
		return h.fail(fmt.Errorf("%w: greeting: %v", ErrProtocol, err))
	}

	if !containsMethod(neg.Methods, txsocks5.MethodNone) {
		// RFC 1928: 0xFF indicates no acceptable methods.
		_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(h.rw)
		return h.fail(ErrNoAcceptableMethod)
	}

	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(h.rw); err != nil {
		return h.fail(fmt.Errorf("greeting reply: %w", err))
	}

	h.state = StateAwaitRequest
	return nil
}

// Request reads the SOCKS5 request and returns the parsed destination. Only
// CONNECT is accepted; BIND and UDP ASSOCIATE get a command-not-supported
// reply and fail the handshake. Malformed input (bad version, truncated read,
// unknown address type) fails the handshake without a reply.
func (h *Handshake) Request() (*DestinationRequest, error) {
	if h.state != StateAwaitRequest {
		return nil, h.fail(fmt.Errorf("%w: request in state %s", ErrProtocol, h.state))
	}

	req, err := txsocks5.NewRequestFrom(h.rw)
	if err != nil {
		return nil, h.fail(fmt.Errorf("%w: request: %v", ErrProtocol, err))
	}

	if req.Cmd != txsocks5.CmdConnect {
		_, _ = newZeroAddrReply(txsocks5.RepCommandNotSupported).WriteTo(h.rw)
		h.state = StateFailed
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedCommand, req.Cmd)
	}

	addr := req.DstAddr
	if req.Atyp == txsocks5.ATYPDomain {
		// The wire form carries a leading length byte; drop it.
		if len(addr) < 2 {
			return nil, h.fail(fmt.Errorf("%w: empty domain", ErrProtocol))
		}
		addr = addr[1:]
	}

	dst := &DestinationRequest{
		Atyp: req.Atyp,
		Addr: append([]byte(nil), addr...),
		Port: binary.BigEndian.Uint16(req.DstPort),
	}
	return dst, nil
}

// Succeed writes the success reply and moves the handshake to Ready. The
// bound address in the reply is the all-zero IPv4 placeholder; CONNECT
// clients do not depend on it.
func (h *Handshake) Succeed() error {
	if h.state != StateAwaitRequest {
		return h.fail(fmt.Errorf("%w: succeed in state %s", ErrProtocol, h.state))
	}
	if _, err := newZeroAddrReply(txsocks5.RepSuccess).WriteTo(h.rw); err != nil {
		return h.fail(fmt.Errorf("success reply: %w", err))
	}
	h.state = StateReady
	return nil
}

// Fail writes a failure reply with the given REP code and moves the
// handshake to Failed. Reply write errors are ignored; the connection is
// being torn down either way.
func (h *Handshake) Fail(rep byte) {
	_, _ = newZeroAddrReply(rep).WriteTo(h.rw)
	h.state = StateFailed
}

func (h *Handshake) fail(err error) error {
	h.state = StateFailed
	return err
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}
