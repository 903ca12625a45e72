package alloc

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/23skdu/kvalloc/internal/core"
	"github.com/23skdu/kvalloc/internal/kvcache"
	"github.com/23skdu/kvalloc/internal/metrics"
)

// SWAAllocator composes a full-attention pool with a smaller sliding-window
// pool behind the shared contract. Every allocation is a joint admission:
// it succeeds only when both sub-pools can serve it, and pairs each
// full-attention index with a sliding-window index in the translation table.
type SWAAllocator struct {
	full *PagedAllocator
	swa  *PagedAllocator
	kv   *kvcache.SWAPool

	sizeFull int64
	sizeSWA  int64
	pageSize int64

	// mapping[fullIdx] is the sliding-window slot paired with fullIdx; 0
	// means unmapped. mapping[0] is always 0: the sentinel never maps.
	mapping []int64

	buffering bool
	freeGroup [][]int64
}

// NewSWA creates a hybrid allocator over a full-attention pool of sizeFull
// tokens and a sliding-window pool of sizeSWA tokens, both paged at
// pageSize. The translation table is installed into kv for its own index
// bookkeeping; the allocator remains its only writer.
func NewSWA(sizeFull, sizeSWA, pageSize int64, kv *kvcache.SWAPool) (*SWAAllocator, error) {
	full, err := newPaged("full", sizeFull, pageSize, kv.Full())
	if err != nil {
		return nil, err
	}
	swa, err := newPaged("swa", sizeSWA, pageSize, kv.SWA())
	if err != nil {
		return nil, err
	}
	s := &SWAAllocator{
		full:     full,
		swa:      swa,
		kv:       kv,
		sizeFull: sizeFull,
		sizeSWA:  sizeSWA,
		pageSize: pageSize,
		mapping:  make([]int64, sizeFull+sizeSWA+1),
	}
	s.Clear()
	kv.SetFullToSWAMapping(s.mapping)
	return s, nil
}

// Clear resets both sub-pools and unmaps every translation entry.
func (s *SWAAllocator) Clear() {
	s.full.Clear()
	s.swa.Clear()
	for i := range s.mapping {
		s.mapping[i] = 0
	}
	s.buffering = false
	s.freeGroup = nil
}

// Alloc draws needSize indices from each sub-pool and records the pairing.
// If either sub-pool lacks capacity the whole call fails and neither is
// touched.
func (s *SWAAllocator) Alloc(needSize int64) ([]int64, error) {
	if needSize > s.full.AvailableSize() || needSize > s.swa.AvailableSize() {
		metrics.AllocRejectionsTotal.WithLabelValues("hybrid", "alloc").Inc()
		return nil, ErrNoSpace
	}

	fullIdx, err := s.full.Alloc(needSize)
	if err != nil {
		return nil, err
	}
	swaIdx, err := s.swa.Alloc(needSize)
	if err != nil {
		// Unreachable: admission checked both pools above.
		return nil, err
	}
	for i := range fullIdx {
		s.mapping[fullIdx[i]] = swaIdx[i]
	}
	return fullIdx, nil
}

func (s *SWAAllocator) AllocExtend(prefixLens, seqLens, lastLoc []int64, extendNumTokens int64) ([]int64, error) {
	return nil, core.NewUnsupportedOpError("SWAAllocator", "AllocExtend")
}

func (s *SWAAllocator) AllocDecode(seqLens, lastLoc []int64) ([]int64, error) {
	return nil, core.NewUnsupportedOpError("SWAAllocator", "AllocDecode")
}

// Free releases indices from the full-attention pool and, through the
// translation table, their sliding-window counterparts. Every freed full
// index maps to 0 afterwards. A full index whose mapping is already 0 is
// skipped; under KVALLOC_DEBUG_POOL=1 it panics instead, since it indicates
// a double free.
func (s *SWAAllocator) Free(indices []int64) {
	if len(indices) == 0 {
		return
	}
	if s.buffering {
		s.freeGroup = append(s.freeGroup, indices)
		return
	}

	s.full.Free(indices)
	s.freeSWA(indices)

	if debugPool {
		if s.full.AvailableSize() > s.sizeFull {
			panic("free: full pool availability exceeds capacity")
		}
		if s.swa.AvailableSize() > s.sizeSWA {
			panic("free: sliding-window pool availability exceeds capacity")
		}
	}
}

func (s *SWAAllocator) freeSWA(indices []int64) {
	swaIdx := make([]int64, 0, len(indices))
	for _, idx := range indices {
		mapped := s.mapping[idx]
		if mapped == 0 {
			if debugPool {
				panic(fmt.Sprintf("free: full index %d has no sliding-window mapping (double free?)", idx))
			}
			continue
		}
		swaIdx = append(swaIdx, mapped)
		s.mapping[idx] = 0
	}
	s.swa.Free(swaIdx)
}

func (s *SWAAllocator) FreeGroupBegin() {
	s.buffering = true
	s.freeGroup = s.freeGroup[:0]
}

func (s *SWAAllocator) FreeGroupEnd() {
	s.buffering = false
	var total int
	for _, batch := range s.freeGroup {
		total += len(batch)
	}
	if total == 0 {
		s.freeGroup = nil
		return
	}
	merged := make([]int64, 0, total)
	for _, batch := range s.freeGroup {
		merged = append(merged, batch...)
	}
	s.freeGroup = nil
	metrics.FreeGroupFlushesTotal.Inc()
	s.Free(merged)
}

// TranslateLocFromFullToSWA resolves full-pool indices to their
// sliding-window slots; 0 entries mean the index is unmapped.
func (s *SWAAllocator) TranslateLocFromFullToSWA(indices []int64) []int64 {
	out := make([]int64, len(indices))
	for i, idx := range indices {
		out[i] = s.mapping[idx]
	}
	return out
}

// AvailableSize reports the joint availability: admission is gated by the
// scarcer sub-pool.
func (s *SWAAllocator) AvailableSize() int64 {
	return min(s.full.AvailableSize(), s.swa.AvailableSize())
}

// FullAvailableSize reports the full-attention sub-pool's availability.
func (s *SWAAllocator) FullAvailableSize() int64 { return s.full.AvailableSize() }

// SWAAvailableSize reports the sliding-window sub-pool's availability.
func (s *SWAAllocator) SWAAvailableSize() int64 { return s.swa.AvailableSize() }

func (s *SWAAllocator) Size() int64     { return s.sizeFull }
func (s *SWAAllocator) PageSize() int64 { return s.pageSize }

// BackupState is unsupported: the paired free lists and translation table
// cannot be snapshotted independently.
func (s *SWAAllocator) BackupState() ([]int64, error) {
	return nil, core.NewUnsupportedOpError("SWAAllocator", "BackupState")
}

func (s *SWAAllocator) RestoreState(freePages []int64) error {
	return core.NewUnsupportedOpError("SWAAllocator", "RestoreState")
}

func (s *SWAAllocator) KVCache() kvcache.Store { return s.kv }

func (s *SWAAllocator) GetCPUCopy(indices []int64) ([][]byte, error) {
	return nil, core.NewUnsupportedOpError("SWAAllocator", "GetCPUCopy")
}

func (s *SWAAllocator) LoadCPUCopy(data [][]byte, indices []int64) error {
	return core.NewUnsupportedOpError("SWAAllocator", "LoadCPUCopy")
}

func (s *SWAAllocator) DebugString() string {
	return fmt.Sprintf("#swa-available-size: %s, #full-attn-available-size: %s, ",
		humanize.Comma(s.swa.AvailableSize()), humanize.Comma(s.full.AvailableSize()))
}

// LogUsage reports both sub-pools; evictableSize applies to the
// full-attention pool, whose used count is returned.
func (s *SWAAllocator) LogUsage(evictableSize int64) (string, int64) {
	usedFull := s.sizeFull - (s.full.AvailableSize() + evictableSize)
	usedSWA := s.sizeSWA - s.swa.AvailableSize()
	msg := fmt.Sprintf("#token: full=%s, swa=%s, token usage: full=%.2f, swa=%.2f, ",
		humanize.Comma(usedFull), humanize.Comma(usedSWA),
		float64(usedFull)/float64(s.sizeFull), float64(usedSWA)/float64(s.sizeSWA))
	return msg, usedFull
}

var _ Allocator = (*SWAAllocator)(nil)
