package alloc

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/dustin/go-humanize"

	"github.com/23skdu/kvalloc/internal/core"
	"github.com/23skdu/kvalloc/internal/kvcache"
	"github.com/23skdu/kvalloc/internal/metrics"
	"github.com/23skdu/kvalloc/internal/pageset"
)

// PagedAllocator manages the pool at page granularity: the free list holds
// page numbers, and every allocation returns the flattened token indices of
// whole pages. Its batched entry points compute an entire request batch's
// assignment in one pass (see extend.go and decode.go).
type PagedAllocator struct {
	pool
	numPages int64

	// freeSet mirrors membership of the free list so Free can honor set
	// union semantics: tokens of a page freed across several calls release
	// the page exactly once.
	freeSet *roaring64.Bitmap
}

// NewPaged creates a paged allocator over size token slots grouped into
// pages of pageSize.
func NewPaged(size, pageSize int64, kv kvcache.Store) (*PagedAllocator, error) {
	return newPaged("paged", size, pageSize, kv)
}

func newPaged(label string, size, pageSize int64, kv kvcache.Store) (*PagedAllocator, error) {
	if pageSize <= 0 {
		return nil, core.NewInvalidArgumentError("pageSize", "must be positive")
	}
	if size <= 0 || size%pageSize != 0 {
		return nil, core.NewInvalidArgumentError("size", "must be a positive multiple of the page size")
	}
	a := &PagedAllocator{
		pool:     pool{label: label, size: size, pageSize: pageSize, kv: kv},
		numPages: size / pageSize,
	}
	a.Clear()
	return a, nil
}

// Clear resets the free list to pages {1..numPages}. Page 0 stays reserved:
// its slots absorb dummy writes from padded tokens.
func (a *PagedAllocator) Clear() {
	a.freePages = make([]int64, a.numPages)
	for i := range a.freePages {
		a.freePages[i] = int64(i) + 1
	}
	if a.freeSet == nil {
		a.freeSet = roaring64.NewBitmap()
	} else {
		a.freeSet.Clear()
	}
	a.freeSet.AddRange(1, uint64(a.numPages)+1)
	a.buffering = false
	a.freeGroup = nil
	a.publishAvailable()
}

// consumePages removes the first n pages from the free list and clears their
// membership marks.
func (a *PagedAllocator) consumePages(n int64) {
	for _, page := range a.freePages[:n] {
		a.freeSet.Remove(uint64(page))
	}
	a.freePages = a.freePages[n:]
}

// Alloc draws needSize/pageSize whole pages from the front of the free list
// and returns their flattened token indices.
func (a *PagedAllocator) Alloc(needSize int64) ([]int64, error) {
	if debugPool && needSize%a.pageSize != 0 {
		panic(fmt.Sprintf("alloc: size %d is not page-aligned (page size %d)", needSize, a.pageSize))
	}

	numPages := needSize / a.pageSize
	if numPages > int64(len(a.freePages)) {
		metrics.AllocRejectionsTotal.WithLabelValues(a.label, "alloc").Inc()
		return nil, ErrNoSpace
	}

	out := make([]int64, 0, needSize)
	for _, page := range a.freePages[:numPages] {
		base := page * a.pageSize
		for j := int64(0); j < a.pageSize; j++ {
			out = append(out, base+j)
		}
	}
	a.consumePages(numPages)

	metrics.PagesAllocatedTotal.WithLabelValues(a.label).Add(float64(numPages))
	a.publishAvailable()
	return out, nil
}

// Free maps every token index to its owning page and unions the pages back
// into the free list. A page whose tokens arrive across several calls is
// released exactly once: pages already free are skipped.
func (a *PagedAllocator) Free(indices []int64) {
	if len(indices) == 0 {
		return
	}
	if a.bufferIfGrouping(indices) {
		return
	}

	pages := make([]int64, 0, len(indices))
	for _, page := range uniquePages(indices, a.pageSize) {
		if page <= 0 || page > a.numPages {
			if debugPool {
				panic(fmt.Sprintf("free: page %d is outside the pool (pages 1..%d)", page, a.numPages))
			}
			continue
		}
		if a.freeSet.Contains(uint64(page)) {
			continue
		}
		a.freeSet.Add(uint64(page))
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return
	}

	merged := make([]int64, 0, len(pages)+len(a.freePages))
	merged = append(merged, pages...)
	merged = append(merged, a.freePages...)
	a.freePages = merged

	if debugPool {
		a.assertUniqueFreeList()
	}
	metrics.PagesFreedTotal.WithLabelValues(a.label).Add(float64(len(pages)))
	a.publishAvailable()
}

// RestoreState rebuilds the membership marks alongside the free list.
func (a *PagedAllocator) RestoreState(freePages []int64) error {
	if err := a.pool.RestoreState(freePages); err != nil {
		return err
	}
	a.freeSet.Clear()
	for _, page := range a.freePages {
		a.freeSet.Add(uint64(page))
	}
	return nil
}

func (a *PagedAllocator) FreeGroupEnd() {
	if merged := a.drainFreeGroup(); len(merged) > 0 {
		a.Free(merged)
	}
}

// GetCPUCopy is not wired for paged pools; host copies go through the flat
// variant's storage collaborator.
func (a *PagedAllocator) GetCPUCopy(indices []int64) ([][]byte, error) {
	return nil, core.NewUnsupportedOpError("PagedAllocator", "GetCPUCopy")
}

func (a *PagedAllocator) LoadCPUCopy(data [][]byte, indices []int64) error {
	return core.NewUnsupportedOpError("PagedAllocator", "LoadCPUCopy")
}

func (a *PagedAllocator) DebugString() string {
	return fmt.Sprintf("#free-pages: %s, page-size: %d, ",
		humanize.Comma(int64(len(a.freePages))), a.pageSize)
}

func (a *PagedAllocator) LogUsage(evictableSize int64) (string, int64) {
	return a.usage(evictableSize)
}

// uniquePages converts token indices to their owning pages and returns the
// sorted unique page set. The scratch bitmap comes from the shared pool;
// callers on the free path run once per scheduling step.
func uniquePages(indices []int64, pageSize int64) []int64 {
	seen := pageset.GetPageSet()
	defer pageset.PutPageSet(seen)

	for _, idx := range indices {
		seen.Add(uint64(idx / pageSize))
	}
	return pageset.Pages(seen)
}

var _ Allocator = (*PagedAllocator)(nil)
