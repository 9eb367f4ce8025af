package relay

import (
	"sync"
)

// BufferPool recycles the per-direction copy buffers so steady-state
// relaying does not allocate.
type BufferPool struct {
	pool sync.Pool
}

func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (p *BufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

func (p *BufferPool) Put(b []byte) {
	// The &b forces a small heap allocation; unavoidable when putting a
	// non-pointer into an interface.
	p.pool.Put(&b)
}
