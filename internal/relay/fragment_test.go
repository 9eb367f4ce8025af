package relay

import (
	"bytes"
	"testing"

	"github.com/makalin/stpro/internal/testutil"
)

func TestFragmenterScriptedSizes(t *testing.T) {
	sizes := []int{2, 3, 1, 10}
	next := 0
	f := &Fragmenter{Size: func(pending int) int {
		n := sizes[next]
		next++
		if n > pending {
			n = pending
		}
		return n
	}}

	payload := []byte("0123456789abcdef")
	var rec testutil.RecordingWriter
	n, err := f.Shape(&rec, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes written got %d", len(payload), n)
	}

	got := rec.Sizes()
	if len(got) != len(sizes) {
		t.Fatalf("expected %d chunks got %d: %v", len(sizes), len(got), got)
	}
	for i, want := range sizes {
		if got[i] != want {
			t.Fatalf("chunk %d: expected size %d got %d", i, want, got[i])
		}
	}
	if !bytes.Equal(rec.Bytes(), payload) {
		t.Fatalf("content mangled: %q", rec.Bytes())
	}
	if rec.Flushes() != len(sizes) {
		t.Fatalf("expected a flush per chunk, got %d flushes for %d chunks", rec.Flushes(), len(sizes))
	}
}

func TestFragmenterBounds(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	f := NewFragmenter()
	var rec testutil.RecordingWriter
	if _, err := f.Shape(&rec, payload); err != nil {
		t.Fatal(err)
	}

	total := 0
	for i, size := range rec.Sizes() {
		if size < 1 || size > MaxFragment {
			t.Fatalf("chunk %d: size %d outside [1, %d]", i, size, MaxFragment)
		}
		total += size
	}
	if total != len(payload) {
		t.Fatalf("expected %d total bytes got %d", len(payload), total)
	}
	if !bytes.Equal(rec.Bytes(), payload) {
		t.Fatal("content mangled")
	}
}

func TestFragmenterShortPayload(t *testing.T) {
	f := NewFragmenter()
	var rec testutil.RecordingWriter
	if _, err := f.Shape(&rec, []byte("PING")); err != nil {
		t.Fatal(err)
	}

	sizes := rec.Sizes()
	if len(sizes) < 1 || len(sizes) > 4 {
		t.Fatalf("expected 1 to 4 chunks for 4 bytes, got %d", len(sizes))
	}
	if !bytes.Equal(rec.Bytes(), []byte("PING")) {
		t.Fatalf("content mangled: %q", rec.Bytes())
	}
}

func TestFragmenterClampsBadSizer(t *testing.T) {
	f := &Fragmenter{Size: func(int) int { return 0 }}
	var rec testutil.RecordingWriter
	if _, err := f.Shape(&rec, []byte("PING")); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rec.Bytes(), []byte("PING")) {
		t.Fatalf("content mangled: %q", rec.Bytes())
	}
}
