package kvcache

import (
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/kvalloc/internal/core"
)

// TokenPool is a flat in-memory pool of fixed-size token slots backed by a
// single buffer drawn from an arrow memory.Allocator. The allocator layer
// decides which slots a request occupies; TokenPool only reads and writes
// them.
type TokenPool struct {
	mem      memory.Allocator
	buf      []byte
	slots    int64
	itemSize int64
}

// NewTokenPool creates a pool with the given slot count and per-slot byte
// width. slots must already account for the sentinel page at index 0 (a
// paged pool of usable size S with page size P needs S+P slots). A nil mem
// falls back to the Go allocator.
func NewTokenPool(slots, itemSize int64, mem memory.Allocator) (*TokenPool, error) {
	if slots <= 0 {
		return nil, core.NewInvalidArgumentError("slots", "must be positive")
	}
	if itemSize <= 0 {
		return nil, core.NewInvalidArgumentError("itemSize", "must be positive")
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &TokenPool{
		mem:      mem,
		buf:      mem.Allocate(int(slots * itemSize)),
		slots:    slots,
		itemSize: itemSize,
	}, nil
}

// Slot returns a writable view of one token slot. The view is valid until
// Release.
func (p *TokenPool) Slot(idx int64) ([]byte, error) {
	if idx < 0 || idx >= p.slots {
		return nil, core.NewInvalidArgumentError("idx", "slot index out of range")
	}
	off := idx * p.itemSize
	return p.buf[off : off+p.itemSize], nil
}

// GetCPUCopy implements Store.
func (p *TokenPool) GetCPUCopy(indices []int64) ([][]byte, error) {
	out := make([][]byte, len(indices))
	for i, idx := range indices {
		slot, err := p.Slot(idx)
		if err != nil {
			return nil, err
		}
		cp := make([]byte, p.itemSize)
		copy(cp, slot)
		out[i] = cp
	}
	return out, nil
}

// LoadCPUCopy implements Store.
func (p *TokenPool) LoadCPUCopy(data [][]byte, indices []int64) error {
	if len(data) != len(indices) {
		return core.NewInvalidArgumentError("data", "length does not match indices")
	}
	for i, idx := range indices {
		if int64(len(data[i])) != p.itemSize {
			return core.NewInvalidArgumentError("data", "entry width does not match item size")
		}
		slot, err := p.Slot(idx)
		if err != nil {
			return err
		}
		copy(slot, data[i])
	}
	return nil
}

// ItemSize implements Store.
func (p *TokenPool) ItemSize() int64 { return p.itemSize }

// Slots implements Store.
func (p *TokenPool) Slots() int64 { return p.slots }

// Release implements Store.
func (p *TokenPool) Release() {
	if p.buf != nil {
		p.mem.Free(p.buf)
		p.buf = nil
	}
}

var _ Store = (*TokenPool)(nil)
