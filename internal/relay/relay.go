package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBufferSize is the per-direction read buffer size.
	DefaultBufferSize = 16 * 1024

	// DefaultGrace bounds how long a half-closed session may keep draining
	// after one direction has finished.
	DefaultGrace = 10 * time.Second
)

// Config carries the per-session relay settings.
type Config struct {
	// Shaper segments the client-to-destination direction. Nil means random
	// fragmentation.
	Shaper Shaper

	// Grace bounds half-closed draining after one direction finishes.
	// Zero means DefaultGrace.
	Grace time.Duration

	// Pool supplies copy buffers. Nil allocates a private pool.
	Pool *BufferPool
}

// Run moves bytes between client and dst until both directions finish or
// the context ends, then closes both sockets. The client-to-destination
// direction goes through the shaper; destination-to-client is copied
// byte-for-byte. When one direction finishes cleanly its peer is
// half-closed and the other direction may drain for the grace period before
// both sockets are forced shut. An I/O error tears the session down
// immediately. Run reports the payload bytes moved in each direction.
func Run(ctx context.Context, client, dst net.Conn, cfg Config) (up, down int64, err error) {
	shaper := cfg.Shaper
	if shaper == nil {
		shaper = NewFragmenter()
	}
	pool := cfg.Pool
	if pool == nil {
		pool = NewBufferPool(DefaultBufferSize)
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = dst.Close()
		})
	}
	defer closeBoth()

	var (
		firstOnce sync.Once
		first     = make(chan struct{})
		both      = make(chan struct{})
		left      atomic.Int32
	)
	left.Store(2)
	finished := func() {
		firstOnce.Do(func() { close(first) })
		if left.Add(-1) == 0 {
			close(both)
		}
	}

	g.Go(func() error {
		n, err := pumpShaped(dst, client, shaper, pool)
		up = n
		closeWrite(dst)
		finished()
		return ioErr(err)
	})

	g.Go(func() error {
		n, err := pumpPlain(client, dst, pool)
		down = n
		closeWrite(client)
		finished()
		return ioErr(err)
	})

	// Force both sockets shut when the context ends or the grace period
	// after the first finished direction expires.
	g.Go(func() error {
		firstC := first
		var timer *time.Timer
		var graceC <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-gctx.Done():
				closeBoth()
				return nil
			case <-both:
				return nil
			case <-firstC:
				timer = time.NewTimer(grace)
				graceC = timer.C
				firstC = nil
			case <-graceC:
				closeBoth()
				return nil
			}
		}
	})

	err = g.Wait()
	return up, down, err
}

// pumpShaped reads from src and writes to w through the shaper.
func pumpShaped(w io.Writer, src io.Reader, shaper Shaper, pool *BufferPool) (int64, error) {
	buf := pool.Get()
	defer pool.Put(buf)

	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wrote, werr := shaper.Shape(w, buf[:n])
			total += int64(wrote)
			if werr != nil {
				return total, werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
	}
}

// pumpPlain copies src to w byte-for-byte.
func pumpPlain(w io.Writer, src io.Reader, pool *BufferPool) (int64, error) {
	buf := pool.Get()
	defer pool.Put(buf)
	return io.CopyBuffer(w, src, buf)
}

// ioErr filters out the errors produced by our own teardown closing a
// socket under a blocked read or write.
func ioErr(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}
