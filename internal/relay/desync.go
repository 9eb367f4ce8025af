package relay

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"syscall"
)

// SplitSpec describes one cut point in the outbound stream. Offset counts
// from the start of the buffer, or from the end when negative. Flags anchor
// or transform the offset; Skip and Repeats bound which buffers of a
// session the cut applies to.
type SplitSpec struct {
	Offset  int64
	SNI     bool // add the TLS server name offset when the buffer is a ClientHello
	Host    bool // add the HTTP Host header value offset
	Middle  bool // halve the computed offset
	End     bool // measure the offset from the end of the buffer
	Repeats int  // apply to this many buffers; 0 means every one
	Skip    int  // skip this many buffers first
}

// FakeSpec pairs a cut position with optional decoy bytes sent ahead of the
// real payload for the benefit of inspecting middleboxes.
type FakeSpec struct {
	SplitSpec
	Data []byte
}

// ParseSplitSpec parses the offset[:repeats[:skip]][+flags] form used on
// the command line. Flags: s = SNI, h = Host, e = end, m = middle.
func ParseSplitSpec(s string) (SplitSpec, error) {
	var spec SplitSpec

	offsetPart := s
	if plus := strings.IndexByte(s, '+'); plus >= 0 {
		offsetPart = s[:plus]
		for _, ch := range s[plus+1:] {
			switch ch {
			case 's':
				spec.SNI = true
			case 'h':
				spec.Host = true
			case 'e':
				spec.End = true
			case 'm':
				spec.Middle = true
			default:
				return SplitSpec{}, fmt.Errorf("unknown flag %q in %q", string(ch), s)
			}
		}
	}

	parts := strings.Split(offsetPart, ":")
	if len(parts) > 3 {
		return SplitSpec{}, fmt.Errorf("too many fields in %q", s)
	}
	off, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return SplitSpec{}, fmt.Errorf("bad offset in %q: %w", s, err)
	}
	spec.Offset = off

	if len(parts) > 1 {
		if spec.Repeats, err = strconv.Atoi(parts[1]); err != nil || spec.Repeats < 0 {
			return SplitSpec{}, fmt.Errorf("bad repeats in %q", s)
		}
	}
	if len(parts) > 2 {
		if spec.Skip, err = strconv.Atoi(parts[2]); err != nil || spec.Skip < 0 {
			return SplitSpec{}, fmt.Errorf("bad skip in %q", s)
		}
	}

	return spec, nil
}

// appliesTo reports whether the spec is active for the i-th shaped buffer
// of a session.
func (s SplitSpec) appliesTo(i int) bool {
	if i < s.Skip {
		return false
	}
	return s.Repeats == 0 || i < s.Skip+s.Repeats
}

// cut computes the spec's cut position within p, clamped to [0, len(p)].
func (s SplitSpec) cut(p []byte, isTLS bool) int {
	off := s.Offset
	if off < 0 {
		off += int64(len(p))
	}
	if s.SNI && isTLS {
		if sni, ok := SNIOffset(p); ok {
			off += int64(sni)
		}
	}
	if s.Host {
		if host, ok := HostHeaderOffset(p); ok {
			off += int64(host)
		}
	}
	if s.Middle {
		off /= 2
	}
	if s.End {
		off = int64(len(p)) - off
	}
	if off < 0 {
		off = 0
	}
	if max := int64(len(p)); off > max {
		off = max
	}
	return int(off)
}

// Desync shapes buffers according to explicitly configured strategies
// instead of random fragmentation. Split takes precedence over Disorder,
// which takes precedence over Fake; buffers no active entry applies to are
// written as-is. A Desync carries per-session state and must not be shared
// across sessions.
type Desync struct {
	Split    []SplitSpec
	Disorder []SplitSpec
	Fake     []FakeSpec
	TTL      int // decoy TTL; 0 leaves the socket's TTL alone

	seen int
}

func (d *Desync) Shape(w io.Writer, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	i := d.seen
	d.seen++

	isTLS := IsTLSClientHello(p)

	if specs := activeSpecs(d.Split, i); len(specs) > 0 {
		return shapeSplit(w, p, specs, isTLS)
	}
	if specs := activeSpecs(d.Disorder, i); len(specs) > 0 {
		return shapeDisorder(w, p, specs, isTLS)
	}
	for _, spec := range d.Fake {
		if spec.appliesTo(i) {
			return d.shapeFake(w, p, spec, isTLS)
		}
	}
	return writeFlush(w, p)
}

func activeSpecs(specs []SplitSpec, i int) []SplitSpec {
	var active []SplitSpec
	for _, s := range specs {
		if s.appliesTo(i) {
			active = append(active, s)
		}
	}
	return active
}

func shapeSplit(w io.Writer, p []byte, specs []SplitSpec, isTLS bool) (int, error) {
	total, last := 0, 0
	for _, spec := range specs {
		pos := spec.cut(p, isTLS)
		if pos <= last {
			continue
		}
		n, err := writeFlush(w, p[last:pos])
		total += n
		if err != nil {
			return total, err
		}
		last = pos
	}
	if last < len(p) {
		n, err := writeFlush(w, p[last:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// shapeDisorder pushes the segments between cut points to the wire in
// reverse order, so an inspecting middlebox sees them out of sequence.
func shapeDisorder(w io.Writer, p []byte, specs []SplitSpec, isTLS bool) (int, error) {
	cuts := []int{0, len(p)}
	for _, spec := range specs {
		if pos := spec.cut(p, isTLS); pos > 0 && pos < len(p) {
			cuts = append(cuts, pos)
		}
	}
	slices.Sort(cuts)
	cuts = slices.Compact(cuts)

	total := 0
	for i := len(cuts) - 1; i > 0; i-- {
		n, err := writeFlush(w, p[cuts[i-1]:cuts[i]])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// shapeFake sends the spec's decoy ahead of the untouched payload. The
// decoy is only sent when it fits below the cut position.
func (d *Desync) shapeFake(w io.Writer, p []byte, spec FakeSpec, isTLS bool) (int, error) {
	pos := spec.cut(p, isTLS)
	if len(spec.Data) > 0 && len(spec.Data) <= pos {
		if err := d.writeDecoy(w, spec.Data); err != nil {
			return 0, err
		}
	}
	return writeFlush(w, p)
}

// writeDecoy sends bytes meant for the middlebox, not the destination.
// When the socket allows it the decoy goes out with a reduced TTL so it
// expires before reaching the destination.
func (d *Desync) writeDecoy(w io.Writer, decoy []byte) error {
	if d.TTL > 0 {
		if sc, ok := w.(syscall.Conn); ok {
			if restore, err := setTTL(sc, d.TTL); err == nil {
				defer restore()
			}
		}
	}
	_, err := writeFlush(w, decoy)
	return err
}
