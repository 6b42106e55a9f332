package buf

import "sync"

// Pool recycles fixed-size frame slices for the receive path.
type Pool struct {
	size int
	pool sync.Pool
}

// NewPool returns a pool of size-byte slices.
func NewPool(size int) *Pool {
	return &Pool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		},
	}
}

// Size returns the slice length handed out by Get.
func (p *Pool) Size() int {
	return p.size
}

// Get returns a slice of Size bytes. Contents are not cleared.
func (p *Pool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns data to the pool. Slices that are too small are dropped.
func (p *Pool) Put(data []byte) {
	if cap(data) < p.size {
		return
	}
	p.pool.Put(data[:p.size])
}
