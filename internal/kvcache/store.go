// Package kvcache holds the physical storage side of the KV cache: fixed-size
// token slots that allocators hand out indices into. Storage knows nothing
// about free lists; it only moves bytes for the slot indices it is given.
package kvcache

// Store is the storage collaborator consumed by the allocators. GetCPUCopy
// and LoadCPUCopy implement host-side checkpointing of cached values at the
// given slot indices.
type Store interface {
	// GetCPUCopy returns a host-side copy of the cache entries at indices,
	// one byte slice per index, in argument order.
	GetCPUCopy(indices []int64) ([][]byte, error)
	// LoadCPUCopy writes previously copied entries back to the given indices.
	LoadCPUCopy(data [][]byte, indices []int64) error
	// ItemSize is the byte width of a single token slot.
	ItemSize() int64
	// Slots is the total number of addressable slots, including the
	// reserved sentinel page at index 0.
	Slots() int64
	// Release frees the backing buffers. The pool is unusable afterwards.
	Release()
}
