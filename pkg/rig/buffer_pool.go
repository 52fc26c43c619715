package rig

import (
	"sync"
	"sync/atomic"
)

// Reply buffer size classes. Most CAT replies fit the small class; the
// large class covers memory dumps and long info frames.
const (
	smallBuffer = 64
	largeBuffer = 1024
)

// ReplyBuffer is a reusable receive buffer.
type ReplyBuffer struct {
	Data []byte
	pool *BufferPool
}

// Release returns the buffer to its pool.
func (b *ReplyBuffer) Release() {
	if b != nil && b.pool != nil {
		b.pool.Put(b)
	}
}

// BufferPool hands out receive buffers in two size classes.
type BufferPool struct {
	small *sync.Pool
	large *sync.Pool

	smallHits, smallMiss atomic.Int64
	largeHits, largeMiss atomic.Int64
	oversize             atomic.Int64
}

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	p.small = &sync.Pool{New: func() any {
		p.smallMiss.Add(1)
		return &ReplyBuffer{Data: make([]byte, 0, smallBuffer), pool: p}
	}}
	p.large = &sync.Pool{New: func() any {
		p.largeMiss.Add(1)
		return &ReplyBuffer{Data: make([]byte, 0, largeBuffer), pool: p}
	}}
	return p
}

var defaultPool = NewBufferPool()

// Get returns an empty buffer with at least size capacity.
func (p *BufferPool) Get(size int) *ReplyBuffer {
	var b *ReplyBuffer
	switch {
	case size <= smallBuffer:
		b = p.small.Get().(*ReplyBuffer)
		p.smallHits.Add(1)
	case size <= largeBuffer:
		b = p.large.Get().(*ReplyBuffer)
		p.largeHits.Add(1)
	default:
		p.oversize.Add(1)
		return &ReplyBuffer{Data: make([]byte, 0, size), pool: p}
	}
	b.Data = b.Data[:0]
	return b
}

// Put recycles b. Oversized buffers are left to the collector.
func (p *BufferPool) Put(b *ReplyBuffer) {
	if b == nil || b.Data == nil {
		return
	}
	clear(b.Data[:cap(b.Data)])
	b.Data = b.Data[:0]
	switch c := cap(b.Data); {
	case c == smallBuffer:
		p.small.Put(b)
	case c == largeBuffer:
		p.large.Put(b)
	}
}

// Statistics returns pool counters.
func (p *BufferPool) Statistics() map[string]int64 {
	return map[string]int64{
		"small_hits": p.smallHits.Load(),
		"small_miss": p.smallMiss.Load(),
		"large_hits": p.largeHits.Load(),
		"large_miss": p.largeMiss.Load(),
		"oversize":   p.oversize.Load(),
	}
}
