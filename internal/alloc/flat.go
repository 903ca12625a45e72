package alloc

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/23skdu/kvalloc/internal/core"
	"github.com/23skdu/kvalloc/internal/kvcache"
	"github.com/23skdu/kvalloc/internal/metrics"
)

// FlatAllocator hands out token slots one at a time (page size 1). It is the
// baseline variant for models served without paged attention.
type FlatAllocator struct {
	pool
}

// NewFlat creates a flat allocator over size slots backed by kv.
func NewFlat(size int64, kv kvcache.Store) *FlatAllocator {
	a := &FlatAllocator{pool{label: "flat", size: size, pageSize: 1, kv: kv}}
	a.Clear()
	return a
}

// Clear resets the free list to {1..size}. Slot 0 stays reserved for dummy
// writes from padded tokens.
func (a *FlatAllocator) Clear() {
	a.freePages = make([]int64, a.size)
	for i := range a.freePages {
		a.freePages[i] = int64(i) + 1
	}
	a.buffering = false
	a.freeGroup = nil
	a.publishAvailable()
}

// AvailableSize avoids the page-size multiply of the shared accounting.
func (a *FlatAllocator) AvailableSize() int64 {
	return int64(len(a.freePages))
}

// Alloc draws needSize slots from the front of the free list.
func (a *FlatAllocator) Alloc(needSize int64) ([]int64, error) {
	if needSize > int64(len(a.freePages)) {
		metrics.AllocRejectionsTotal.WithLabelValues(a.label, "alloc").Inc()
		return nil, ErrNoSpace
	}
	out := a.freePages[:needSize:needSize]
	a.freePages = a.freePages[needSize:]
	metrics.PagesAllocatedTotal.WithLabelValues(a.label).Add(float64(needSize))
	a.publishAvailable()
	return out, nil
}

// AllocExtend is only meaningful for paged pools.
func (a *FlatAllocator) AllocExtend(prefixLens, seqLens, lastLoc []int64, extendNumTokens int64) ([]int64, error) {
	return nil, core.NewUnsupportedOpError("FlatAllocator", "AllocExtend")
}

// AllocDecode is only meaningful for paged pools.
func (a *FlatAllocator) AllocDecode(seqLens, lastLoc []int64) ([]int64, error) {
	return nil, core.NewUnsupportedOpError("FlatAllocator", "AllocDecode")
}

// Free returns slots to the pool, or buffers them inside an open free group.
func (a *FlatAllocator) Free(indices []int64) {
	if len(indices) == 0 {
		return
	}
	if a.bufferIfGrouping(indices) {
		return
	}
	a.freePages = append(a.freePages, indices...)
	if debugPool {
		a.assertUniqueFreeList()
	}
	metrics.PagesFreedTotal.WithLabelValues(a.label).Add(float64(len(indices)))
	a.publishAvailable()
}

func (a *FlatAllocator) FreeGroupEnd() {
	if merged := a.drainFreeGroup(); len(merged) > 0 {
		a.Free(merged)
	}
}

// GetCPUCopy delegates to the storage collaborator.
func (a *FlatAllocator) GetCPUCopy(indices []int64) ([][]byte, error) {
	return a.kv.GetCPUCopy(indices)
}

// LoadCPUCopy delegates to the storage collaborator.
func (a *FlatAllocator) LoadCPUCopy(data [][]byte, indices []int64) error {
	return a.kv.LoadCPUCopy(data, indices)
}

func (a *FlatAllocator) DebugString() string {
	return fmt.Sprintf("#free-slots: %s, ", humanize.Comma(a.AvailableSize()))
}

func (a *FlatAllocator) LogUsage(evictableSize int64) (string, int64) {
	return a.usage(evictableSize)
}

var _ Allocator = (*FlatAllocator)(nil)
