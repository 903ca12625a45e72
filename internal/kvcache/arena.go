package kvcache

import (
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DefaultChunkSize is the granularity at which pool buffers are recycled.
const DefaultChunkSize = 16 * 1024 * 1024

// ArenaAllocator implements arrow memory.Allocator over a process-wide pool
// of large chunks, so tearing down and rebuilding cache pools (restarts of a
// serving loop, benchmark iterations) does not churn the heap. Individual
// Free calls only adjust accounting; memory returns to the chunk pool on
// Release.
type ArenaAllocator struct {
	mu           sync.Mutex
	currentChunk []byte
	offset       int
	allocated    int64
	chunks       []*[]byte
}

var chunkPool = &sync.Pool{
	New: func() interface{} {
		b := make([]byte, DefaultChunkSize)
		return &b
	},
}

// NewArenaAllocator creates an allocator backed by the shared chunk pool.
func NewArenaAllocator() *ArenaAllocator {
	return &ArenaAllocator{}
}

// Allocate returns a zero-offset slice of the requested size.
func (a *ArenaAllocator) Allocate(size int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	atomic.AddInt64(&a.allocated, int64(size))

	// Requests larger than a chunk get their own buffer; it is tracked so
	// Release sees a consistent chunk list, but never pooled.
	if size > DefaultChunkSize {
		b := make([]byte, size)
		a.chunks = append(a.chunks, &b)
		return b
	}

	if a.currentChunk != nil && a.offset+size <= len(a.currentChunk) {
		start := a.offset
		a.offset += size
		return a.currentChunk[start:a.offset]
	}

	chunkPtr := chunkPool.Get().(*[]byte)
	a.chunks = append(a.chunks, chunkPtr)
	a.currentChunk = *chunkPtr
	a.offset = size
	return a.currentChunk[:size]
}

// Reallocate resizes a slice, copying its contents.
func (a *ArenaAllocator) Reallocate(size int, b []byte) []byte {
	if size == len(b) {
		return b
	}
	newBuf := a.Allocate(size)
	copy(newBuf, b)
	return newBuf
}

// Free adjusts accounting only; chunks are reclaimed in Release.
func (a *ArenaAllocator) Free(b []byte) {
	atomic.AddInt64(&a.allocated, -int64(len(b)))
}

// Allocated returns total bytes currently allocated.
func (a *ArenaAllocator) Allocated() int64 {
	return atomic.LoadInt64(&a.allocated)
}

// Release returns all standard-size chunks to the shared pool. Buffers handed
// out earlier must not be touched afterwards.
func (a *ArenaAllocator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, chunkPtr := range a.chunks {
		if cap(*chunkPtr) == DefaultChunkSize {
			chunkPool.Put(chunkPtr)
		}
	}
	a.chunks = nil
	a.currentChunk = nil
	a.offset = 0
	atomic.StoreInt64(&a.allocated, 0)
}

var _ memory.Allocator = (*ArenaAllocator)(nil)
