package alloc

import (
	"fmt"

	"github.com/23skdu/kvalloc/internal/core"
	"github.com/23skdu/kvalloc/internal/metrics"
)

// AllocDecode appends exactly one token per request: the token either fits
// in the page after lastLoc[i], or opens exactly one fresh page whose first
// slot it takes. The same exclusive prefix sum as AllocExtend hands disjoint
// fresh pages to the requests that need one, and the same all-or-nothing
// admission rule applies.
func (a *PagedAllocator) AllocDecode(seqLens, lastLoc []int64) ([]int64, error) {
	bs := len(seqLens)
	if len(lastLoc) != bs {
		return nil, core.NewInvalidArgumentError("lastLoc", "batch arrays must have equal length")
	}
	if debugPool {
		for i := 0; i < bs; i++ {
			if (lastLoc[i]+2)%a.pageSize != seqLens[i]%a.pageSize {
				panic(fmt.Sprintf("alloc_decode: request %d last_loc %d inconsistent with seq_len %d mod page size %d",
					i, lastLoc[i], seqLens[i], a.pageSize))
			}
		}
	}

	pageStarts := make([]int64, bs)
	var sumPages int64
	for i := 0; i < bs; i++ {
		pageStarts[i] = sumPages
		sumPages += ceilDiv(seqLens[i], a.pageSize) - ceilDiv(seqLens[i]-1, a.pageSize)
	}
	if sumPages > int64(len(a.freePages)) {
		metrics.AllocRejectionsTotal.WithLabelValues(a.label, "alloc_decode").Inc()
		return nil, ErrNoSpace
	}

	out := make([]int64, bs)
	for i := 0; i < bs; i++ {
		needsPage := ceilDiv(seqLens[i], a.pageSize) != ceilDiv(seqLens[i]-1, a.pageSize)
		if needsPage {
			out[i] = a.freePages[pageStarts[i]] * a.pageSize
		} else {
			out[i] = lastLoc[i] + 1
		}
	}
	a.consumePages(sumPages)

	if debugPool {
		assertDisjoint("alloc_decode", out)
	}
	metrics.PagesAllocatedTotal.WithLabelValues(a.label).Add(float64(sumPages))
	a.publishAvailable()
	return out, nil
}
