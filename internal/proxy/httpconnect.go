package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/makalin/stpro/internal/socks5"
)

// handleConnect serves the HTTP CONNECT fallback for clients that do not
// speak SOCKS5 but land on the same port. Only CONNECT is honored; there is
// no general-purpose HTTP proxying here.
func (s *Server) handleConnect(conn net.Conn, br *bufio.Reader, log zerolog.Logger) {
	req, err := http.ReadRequest(br)
	if err != nil {
		s.cfg.Metrics.RecordHandshakeFailure("http")
		log.Debug().Err(err).Msg("unreadable request")
		return
	}
	if req.Method != http.MethodConnect {
		s.cfg.Metrics.RecordHandshakeFailure("http")
		writeStatus(conn, http.StatusMethodNotAllowed)
		return
	}

	target := req.Host
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		s.cfg.Metrics.RecordHandshakeFailure("http")
		writeStatus(conn, http.StatusBadRequest)
		return
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		s.cfg.Metrics.RecordHandshakeFailure("http")
		writeStatus(conn, http.StatusBadRequest)
		return
	}

	log.Info().Str("proto", "connect").Str("dst", target).Msg("tunneling")

	dst, err := s.cfg.Resolver.Connect(s.ctx, socks5.NewDestination(host, uint16(port)))
	if err != nil {
		s.cfg.Metrics.RecordHandshakeFailure("connect")
		log.Info().Err(err).Str("dst", target).Msg("connect failed")
		writeStatus(conn, http.StatusBadGateway)
		return
	}

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		_ = dst.Close()
		return
	}

	s.tunnel(conn, br, dst, "connect", log)
}

// writeStatus emits a one-line refusal on a connection that never reached
// the relay stage.
func writeStatus(w io.Writer, code int) {
	_, _ = fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nConnection: close\r\n\r\n", code, http.StatusText(code))
}
