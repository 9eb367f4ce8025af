package resolver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/makalin/stpro/internal/socks5"
)

// LookupFunc resolves a hostname to candidate IP addresses in preference
// order.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// Config carries the knobs for outbound connection establishment.
type Config struct {
	// DialTimeout bounds each connection attempt. Zero means no limit
	// beyond the context's.
	DialTimeout time.Duration

	// KeepAlive is applied to established destination sockets.
	KeepAlive net.KeepAliveConfig

	// Lookup resolves domain destinations. Nil means the system resolver.
	Lookup LookupFunc
}

// Resolver turns destination requests into connected TCP sockets.
type Resolver struct {
	cfg    Config
	lookup LookupFunc
}

func New(cfg Config) *Resolver {
	lookup := cfg.Lookup
	if lookup == nil {
		lookup = systemLookup
	}
	return &Resolver{cfg: cfg, lookup: lookup}
}

// Connect establishes a TCP connection to the destination named by dst.
// Literal addresses are dialed as-is. Domains are resolved and each
// candidate tried in order; the first connection wins, and if every
// candidate fails the last dial error is returned. Resolution failures
// carry a *net.DNSError so callers can map them to the right reply code.
func (r *Resolver) Connect(ctx context.Context, dst *socks5.DestinationRequest) (net.Conn, error) {
	if !dst.IsDomain() {
		return r.dial(ctx, dst.Address())
	}

	host := dst.Host()
	ips, err := r.lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: %w", host,
			&net.DNSError{Err: "no addresses", Name: host, IsNotFound: true})
	}

	port := strconv.Itoa(int(dst.Port))
	var lastErr error
	for _, ip := range ips {
		conn, err := r.dial(ctx, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Resolver) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: r.cfg.DialTimeout, KeepAliveConfig: r.cfg.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

func systemLookup(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}
