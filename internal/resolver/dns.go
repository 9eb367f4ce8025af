package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// NewDNSLookup returns a LookupFunc that queries server directly instead of
// going through the system resolver. server may omit the port, in which case
// 53 is used. IPv4 answers come first, IPv6 answers after them.
func NewDNSLookup(server string, timeout time.Duration) LookupFunc {
	server = withDefaultPort(server)
	client := &dns.Client{Timeout: timeout}

	return func(ctx context.Context, host string) ([]net.IP, error) {
		var ips []net.IP
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			answers, err := query(ctx, client, server, host, qtype)
			if err != nil {
				// IPv4 answers in hand are good enough.
				if len(ips) > 0 {
					break
				}
				return nil, err
			}
			ips = append(ips, answers...)
		}
		if len(ips) == 0 {
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		}
		return ips, nil
	}
}

func query(ctx context.Context, client *dns.Client, server, host string, qtype uint16) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)

	resp, _, err := client.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, &net.DNSError{Err: err.Error(), Name: host, IsTimeout: isTimeout(err)}
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	default:
		return nil, &net.DNSError{Err: fmt.Sprintf("server returned %s", dns.RcodeToString[resp.Rcode]), Name: host}
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		switch a := rr.(type) {
		case *dns.A:
			ips = append(ips, a.A)
		case *dns.AAAA:
			ips = append(ips, a.AAAA)
		}
	}
	return ips, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func withDefaultPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "53")
}
