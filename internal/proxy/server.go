package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/makalin/stpro/internal/relay"
	"github.com/makalin/stpro/internal/socks5"
)

// Server accepts client connections and shepherds each one from protocol
// sniffing through handshake, destination connect, and relay teardown. The
// accept loop never blocks on a session, and a session failure never
// affects its neighbors.
type Server struct {
	ctx  context.Context
	cfg  Config
	sem  *semaphore.Weighted
	pool *relay.BufferPool
}

// NewServer constructs a Server. ctx outlives individual sessions and tears
// their relays down when it is canceled; nil means context.Background.
func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Server{
		ctx:  ctx,
		cfg:  cfg,
		pool: relay.NewBufferPool(relay.DefaultBufferSize),
	}
	if cfg.MaxConns > 0 {
		s.sem = semaphore.NewWeighted(cfg.MaxConns)
	}
	return s
}

// Serve accepts connections on ln until Accept fails, typically because the
// listener was closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(c)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if s.sem != nil {
		if !s.sem.TryAcquire(1) {
			s.cfg.Metrics.RecordRejected()
			s.cfg.Log.Warn().Str("client", conn.RemoteAddr().String()).Msg("session limit reached, closing")
			return
		}
		defer s.sem.Release(1)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	log := s.cfg.Log.With().
		Str("session", uuid.NewString()).
		Str("client", conn.RemoteAddr().String()).
		Logger()

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	br := bufio.NewReader(conn)

	// One byte decides the protocol: 0x05 is a SOCKS5 version marker, and
	// no HTTP method starts with it.
	first, err := br.Peek(1)
	if err != nil {
		log.Debug().Err(err).Msg("closed before first byte")
		return
	}

	if first[0] == 0x05 {
		s.handleSOCKS5(conn, br, log)
		return
	}
	s.handleConnect(conn, br, log)
}

func (s *Server) handleSOCKS5(conn net.Conn, br *bufio.Reader, log zerolog.Logger) {
	hs := socks5.NewHandshake(readWriter{br, conn})

	if err := hs.Greet(); err != nil {
		s.cfg.Metrics.RecordHandshakeFailure("greet")
		log.Debug().Err(err).Msg("greeting failed")
		return
	}

	req, err := hs.Request()
	if err != nil {
		s.cfg.Metrics.RecordHandshakeFailure("request")
		log.Debug().Err(err).Msg("request rejected")
		return
	}

	log.Info().Str("proto", "socks5").Str("dst", req.Address()).Msg("tunneling")

	dst, err := s.cfg.Resolver.Connect(s.ctx, req)
	if err != nil {
		s.cfg.Metrics.RecordHandshakeFailure("connect")
		log.Info().Err(err).Str("dst", req.Address()).Msg("connect failed")
		hs.Fail(socks5.ReplyCode(err))
		return
	}

	if err := hs.Succeed(); err != nil {
		_ = dst.Close()
		log.Debug().Err(err).Msg("reply write failed")
		return
	}

	s.tunnel(conn, br, dst, "socks5", log)
}

// tunnel relays between the negotiated client and destination sockets until
// either side is done.
func (s *Server) tunnel(conn net.Conn, br *bufio.Reader, dst net.Conn, proto string, log zerolog.Logger) {
	defer dst.Close()

	_ = conn.SetDeadline(time.Time{})

	s.cfg.Metrics.RecordSessionStart(proto)
	start := time.Now()

	up, down, err := relay.Run(s.ctx, &clientConn{Conn: conn, br: br}, dst, relay.Config{
		Shaper: s.shaper(),
		Grace:  s.cfg.Grace,
		Pool:   s.pool,
	})

	s.cfg.Metrics.RecordSessionEnd(up, down, time.Since(start))

	if err != nil {
		log.Info().Err(err).Int64("up", up).Int64("down", down).Msg("session ended")
		return
	}
	log.Debug().Int64("up", up).Int64("down", down).Msg("session closed")
}

// shaper picks the write shaper for one session. Desync carries per-session
// state, so every session gets a fresh value.
func (s *Server) shaper() relay.Shaper {
	if len(s.cfg.Split)+len(s.cfg.Disorder)+len(s.cfg.Fake) > 0 {
		return &relay.Desync{
			Split:    s.cfg.Split,
			Disorder: s.cfg.Disorder,
			Fake:     s.cfg.Fake,
			TTL:      s.cfg.TTL,
		}
	}
	return relay.NewFragmenter()
}

// readWriter pairs the sniffing reader with the bare connection for the
// handshake.
type readWriter struct {
	io.Reader
	io.Writer
}

// clientConn reads through the sniffing bufio.Reader, which may still hold
// bytes the client pipelined behind its handshake, while passing writes and
// half-closes to the underlying connection.
type clientConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *clientConn) Read(p []byte) (int, error) { return c.br.Read(p) }

func (c *clientConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
