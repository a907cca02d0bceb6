package chops

import (
	"sync"
)

const (
	// minBufferSize is the smallest buffer class kept in the pool.
	minBufferSize = 32
	// maxBufferSize is the maximum size of buffers that will be pooled.
	maxBufferSize = 64 * 1024 // 64KB
)

// bufferPool is a set of size-classed pools of byte slices for reuse.
// Classes are powers of two from minBufferSize to maxBufferSize.
type bufferPool struct {
	pools []*sync.Pool
}

// Global buffer pool instance.
var globalBufferPool = newBufferPool()

// newBufferPool creates a new buffer pool.
func newBufferPool() *bufferPool {
	bp := &bufferPool{}

	for size := minBufferSize; size <= maxBufferSize; size <<= 1 {
		size := size
		bp.pools = append(bp.pools, &sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		})
	}

	return bp
}

// classIndex returns the pool index whose class size is >= size.
func classIndex(size int) int {
	idx := 0
	class := minBufferSize
	for class < size {
		class <<= 1
		idx++
	}

	return idx
}

// getBuffer retrieves a buffer of length size from the pool.
func (bp *bufferPool) getBuffer(size int) []byte {
	if size > maxBufferSize {
		return make([]byte, size)
	}

	buf, ok := bp.pools[classIndex(size)].Get().([]byte)
	if !ok {
		return make([]byte, size)
	}

	return buf[:size]
}

// putBuffer returns a buffer to the pool keyed by its capacity class.
func (bp *bufferPool) putBuffer(buf []byte) {
	c := cap(buf)
	if c < minBufferSize || c > maxBufferSize {
		return // Don't pool undersized or oversized buffers.
	}
	if c&(c-1) != 0 {
		return // Not a pool class size.
	}

	bp.pools[classIndex(c)].Put(buf[:c])
}

// GetBuffer retrieves a byte slice of length size, reusing pooled memory
// when possible. Buffers obtained here should be returned with PutBuffer
// once no longer referenced.
func GetBuffer(size int) []byte {
	return globalBufferPool.getBuffer(size)
}

// PutBuffer returns a buffer obtained from GetBuffer to the pool. The caller
// must not retain any reference to buf afterwards.
func PutBuffer(buf []byte) {
	globalBufferPool.putBuffer(buf)
}
