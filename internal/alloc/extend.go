package alloc

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/23skdu/kvalloc/internal/core"
	"github.com/23skdu/kvalloc/internal/metrics"
	"github.com/23skdu/kvalloc/internal/pageset"
)

// kernelParallelBatch is the batch size above which the per-request fill
// fans out to a worker pool. Below it, goroutine overhead outweighs the
// per-request work.
var kernelParallelBatch = 64

// AllocExtend grows every request in the batch from prefixLens[i] to
// seqLens[i] tokens in one pass. Per request, three regions are filled:
// slots completing the prefix's partially occupied page (continuing after
// lastLoc[i]), whole fresh pages, and the head of one trailing fresh page.
// Exclusive prefix sums over the batch give each request a disjoint slice of
// the free list's front and a disjoint region of the output, so requests
// need no coordination with each other.
//
// The call commits or rejects atomically: the aggregate page demand is fully
// reduced first, and nothing is written or consumed when it exceeds the free
// list.
func (a *PagedAllocator) AllocExtend(prefixLens, seqLens, lastLoc []int64, extendNumTokens int64) ([]int64, error) {
	bs := len(prefixLens)
	if len(seqLens) != bs || len(lastLoc) != bs {
		return nil, core.NewInvalidArgumentError("seqLens", "batch arrays must have equal length")
	}
	if debugPool {
		for i := 0; i < bs; i++ {
			if (lastLoc[i]+1)%a.pageSize != prefixLens[i]%a.pageSize {
				panic(fmt.Sprintf("alloc_extend: request %d last_loc %d inconsistent with prefix_len %d mod page size %d",
					i, lastLoc[i], prefixLens[i], a.pageSize))
			}
		}
	}

	outStarts := make([]int64, bs)
	pageStarts := make([]int64, bs)
	var sumTokens, sumPages int64
	for i := 0; i < bs; i++ {
		outStarts[i] = sumTokens
		sumTokens += seqLens[i] - prefixLens[i]
		pageStarts[i] = sumPages
		sumPages += ceilDiv(seqLens[i], a.pageSize) - ceilDiv(prefixLens[i], a.pageSize)
	}
	if sumTokens != extendNumTokens {
		return nil, core.NewInvalidArgumentError("extendNumTokens", "does not match the batch's new-token total")
	}

	demand := core.PackDemand(sumPages, sumTokens)
	if demand.Pages() > int64(len(a.freePages)) {
		metrics.AllocRejectionsTotal.WithLabelValues(a.label, "alloc_extend").Inc()
		return nil, ErrNoSpace
	}

	out := make([]int64, demand.Tokens())
	a.fillExtend(out, prefixLens, seqLens, lastLoc, outStarts, pageStarts)
	a.consumePages(demand.Pages())

	if debugPool {
		assertDisjoint("alloc_extend", out)
	}
	metrics.PagesAllocatedTotal.WithLabelValues(a.label).Add(float64(sumPages))
	a.publishAvailable()
	return out, nil
}

// fillExtend runs the per-request kernel over the whole batch. Output cells
// and free-list slices of different requests never alias, so the parallel
// and sequential paths produce identical results.
func (a *PagedAllocator) fillExtend(out, prefixLens, seqLens, lastLoc, outStarts, pageStarts []int64) {
	bs := len(prefixLens)
	if bs < kernelParallelBatch {
		for i := 0; i < bs; i++ {
			a.extendOne(i, out, prefixLens, seqLens, lastLoc, outStarts, pageStarts)
		}
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > bs {
		numWorkers = bs
	}
	jobs := make(chan int, bs)
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				a.extendOne(i, out, prefixLens, seqLens, lastLoc, outStarts, pageStarts)
			}
		}()
	}
	for i := 0; i < bs; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// extendOne fills request i's region of out. It reads only batch inputs and
// the request's own slice of the free list.
func (a *PagedAllocator) extendOne(i int, out, prefixLens, seqLens, lastLoc, outStarts, pageStarts []int64) {
	ps := a.pageSize
	preLen, seqLen := prefixLens[i], seqLens[i]
	outPos := outStarts[i]
	pageIdx := pageStarts[i]

	// Region 1: finish the page the prefix partially occupies.
	part1 := min(seqLen, ceilMul(preLen, ps)) - preLen
	for k := int64(0); k < part1; k++ {
		out[outPos+k] = lastLoc[i] + 1 + k
	}
	if preLen+part1 == seqLen {
		return
	}
	outPos += part1

	// Region 2: whole fresh pages between the prefix and target boundaries.
	part2 := floorMul(seqLen, ps) - ceilMul(preLen, ps)
	for k := int64(0); k < part2; k++ {
		page := a.freePages[pageIdx+k/ps]
		out[outPos+k] = page*ps + k%ps
	}
	if preLen+part1+part2 == seqLen {
		return
	}
	outPos += part2

	// Region 3: remaining tokens take the head of one more fresh page.
	part3 := seqLen - floorMul(seqLen, ps)
	page := a.freePages[pageIdx+part2/ps]
	for k := int64(0); k < part3; k++ {
		out[outPos+k] = page*ps + k
	}
}

// assertDisjoint panics when an output batch assigns any slot twice. Debug
// mode only.
func assertDisjoint(op string, out []int64) {
	seen := pageset.GetPageSet()
	defer pageset.PutPageSet(seen)
	for _, idx := range out {
		if seen.Contains(uint64(idx)) {
			panic(fmt.Sprintf("%s: slot %d assigned twice in one batch", op, idx))
		}
		seen.Add(uint64(idx))
	}
}
