package testutil

import (
	"sync"
)

// RecordingWriter captures every Write it receives as its own chunk, so tests
// can assert how a stream was segmented rather than just what it carried. It
// also counts Flush calls.
type RecordingWriter struct {
	mu      sync.Mutex
	chunks  [][]byte
	flushes int
}

func (w *RecordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = append(w.chunks, append([]byte(nil), p...))
	return len(p), nil
}

func (w *RecordingWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
	return nil
}

// Sizes returns the byte length of each recorded write, in order.
func (w *RecordingWriter) Sizes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	sizes := make([]int, len(w.chunks))
	for i, c := range w.chunks {
		sizes[i] = len(c)
	}
	return sizes
}

// Bytes returns the concatenation of all recorded writes.
func (w *RecordingWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	var all []byte
	for _, c := range w.chunks {
		all = append(all, c...)
	}
	return all
}

// Flushes returns how many times Flush has been called.
func (w *RecordingWriter) Flushes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushes
}
