package relay

import (
	"io"
	"math/rand"
)

// MaxFragment is the largest fragment the default shaper puts on the wire.
const MaxFragment = 50

// A Shaper writes one buffer of client bytes to the destination, deciding
// how the bytes are segmented on the wire. Implementations must preserve
// content and order exactly; only segmentation may change.
type Shaper interface {
	Shape(w io.Writer, p []byte) (int, error)
}

// A Sizer returns the size of the next fragment given how many bytes are
// still pending. Results outside [1, pending] are clamped by the caller.
type Sizer func(pending int) int

// DefaultSizer draws fragment sizes uniformly from [1, MaxFragment].
func DefaultSizer(pending int) int {
	n := rand.Intn(MaxFragment) + 1
	if n > pending {
		n = pending
	}
	return n
}

// Fragmenter slices every buffer into chunks sized by Size and forces each
// chunk onto the wire before slicing the next.
type Fragmenter struct {
	Size Sizer
}

func NewFragmenter() *Fragmenter {
	return &Fragmenter{Size: DefaultSizer}
}

func (f *Fragmenter) Shape(w io.Writer, p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := f.Size(len(p))
		if n < 1 || n > len(p) {
			n = len(p)
		}
		wrote, err := writeFlush(w, p[:n])
		total += wrote
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

type flusher interface {
	Flush() error
}

// writeFlush writes p and immediately pushes it past any output buffering
// the writer may have.
func writeFlush(w io.Writer, p []byte) (int, error) {
	n, err := w.Write(p)
	if err != nil {
		return n, err
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}
