// Package alloc manages the token-slot indices of a KV cache pool. An
// allocator owns a free list of slots (or fixed-size pages of slots) and
// computes, for every scheduling step, which slots each request's new tokens
// occupy. Allocators perform no internal locking: callers serialize all
// operations on an instance, one scheduling step at a time.
package alloc

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/23skdu/kvalloc/internal/kvcache"
	"github.com/23skdu/kvalloc/internal/metrics"
	"github.com/23skdu/kvalloc/internal/pageset"
)

// ErrNoSpace reports that a pool cannot satisfy the requested allocation.
// It is an ordinary outcome, not a fault: callers respond by evicting or
// preempting requests. The allocator's state is unchanged when it is
// returned.
var ErrNoSpace = errors.New("kv cache pool exhausted")

// debugPool enables the opt-in consistency assertions. Violating the
// preconditions they check (duplicate frees, misaligned last locations,
// unaligned sizes) is undefined behavior when the toggle is off.
var debugPool = os.Getenv("KVALLOC_DEBUG_POOL") == "1"

// Allocator is the contract shared by all pool variants. Batched operations
// either fully commit or fully reject: on error the free list, and any
// translation table, are byte-for-byte unchanged.
type Allocator interface {
	// Clear resets the pool to full capacity and leaves deferred-free
	// buffering off.
	Clear()

	// Alloc draws needSize token slots and returns their indices. Paged
	// variants require needSize to be a multiple of the page size and
	// return whole pages. Returns ErrNoSpace without side effects when
	// capacity is insufficient.
	Alloc(needSize int64) ([]int64, error)

	// AllocExtend grows every request in a batch from its prefix length to
	// its target sequence length in one pass. The three arrays are indexed
	// by request position and must have equal length; extendNumTokens is
	// the total number of new tokens across the batch and fixes the output
	// length. Paged variants only.
	AllocExtend(prefixLens, seqLens, lastLoc []int64, extendNumTokens int64) ([]int64, error)

	// AllocDecode appends exactly one token per request. seqLens holds the
	// target lengths after the append; lastLoc the last occupied slot per
	// request. Output has one index per request. Paged variants only.
	AllocDecode(seqLens, lastLoc []int64) ([]int64, error)

	// Free returns token indices to the pool. Freeing an empty batch is a
	// no-op. Callers must not pass duplicate or foreign indices; this is
	// checked only under KVALLOC_DEBUG_POOL=1.
	Free(indices []int64)

	// FreeGroupBegin switches the allocator into buffering mode: subsequent
	// Free calls accumulate instead of mutating the free list.
	FreeGroupBegin()

	// FreeGroupEnd flushes every buffered batch as one Free call and
	// returns to immediate mode.
	FreeGroupEnd()

	// AvailableSize is the number of free token slots.
	AvailableSize() int64
	// Size is the pool's token capacity.
	Size() int64
	// PageSize is the allocation granularity in tokens.
	PageSize() int64

	// BackupState snapshots the free list (for rollback of speculative
	// work); RestoreState replaces it. Unsupported on the hybrid variant.
	BackupState() ([]int64, error)
	RestoreState(freePages []int64) error

	// KVCache returns the storage collaborator, with delegating host-copy
	// accessors where the variant supports them.
	KVCache() kvcache.Store
	GetCPUCopy(indices []int64) ([][]byte, error)
	LoadCPUCopy(data [][]byte, indices []int64) error

	// DebugString describes pool state for diagnostics; LogUsage returns a
	// usage summary plus the used-token count for the caller to log.
	DebugString() string
	LogUsage(evictableSize int64) (string, int64)
}

// pool carries the bookkeeping shared by the flat and paged variants: the
// free list and the deferred-free scope. The buffering flag and its buffer
// are explicit instance state, entered and exited only through the two
// free-group operations.
type pool struct {
	label    string
	size     int64
	pageSize int64
	kv       kvcache.Store

	freePages []int64
	buffering bool
	freeGroup [][]int64
}

func (p *pool) Size() int64     { return p.size }
func (p *pool) PageSize() int64 { return p.pageSize }

func (p *pool) AvailableSize() int64 {
	return int64(len(p.freePages)) * p.pageSize
}

func (p *pool) KVCache() kvcache.Store { return p.kv }

// BackupState copies the free list so the snapshot survives later in-place
// mutation of the pool.
func (p *pool) BackupState() ([]int64, error) {
	backup := make([]int64, len(p.freePages))
	copy(backup, p.freePages)
	return backup, nil
}

// RestoreState replaces the free list with a copy of the snapshot.
func (p *pool) RestoreState(freePages []int64) error {
	p.freePages = make([]int64, len(freePages))
	copy(p.freePages, freePages)
	p.publishAvailable()
	return nil
}

func (p *pool) FreeGroupBegin() {
	p.buffering = true
	p.freeGroup = p.freeGroup[:0]
}

// bufferIfGrouping accumulates the batch when a free group is open and
// reports whether it did.
func (p *pool) bufferIfGrouping(indices []int64) bool {
	if !p.buffering {
		return false
	}
	p.freeGroup = append(p.freeGroup, indices)
	return true
}

// drainFreeGroup exits buffering mode and returns the concatenation of every
// buffered batch.
func (p *pool) drainFreeGroup() []int64 {
	p.buffering = false
	var total int
	for _, batch := range p.freeGroup {
		total += len(batch)
	}
	if total == 0 {
		p.freeGroup = nil
		return nil
	}
	merged := make([]int64, 0, total)
	for _, batch := range p.freeGroup {
		merged = append(merged, batch...)
	}
	p.freeGroup = nil
	metrics.FreeGroupFlushesTotal.Inc()
	return merged
}

func (p *pool) publishAvailable() {
	metrics.PoolAvailableTokens.WithLabelValues(p.label).Set(float64(p.AvailableSize()))
}

func (p *pool) usage(evictableSize int64) (string, int64) {
	numUsed := p.size - (p.AvailableSize() + evictableSize)
	msg := fmt.Sprintf("#token: %s, token usage: %.2f, ",
		humanize.Comma(numUsed), float64(numUsed)/float64(p.size))
	return msg, numUsed
}

// assertUniqueFreeList panics when the free list holds duplicates. Debug
// mode only.
func (p *pool) assertUniqueFreeList() {
	seen := pageset.GetPageSet()
	defer pageset.PutPageSet(seen)
	for _, pg := range p.freePages {
		if seen.Contains(uint64(pg)) {
			panic(fmt.Sprintf("%s allocator: page %d present twice in free list", p.label, pg))
		}
		if pg == 0 {
			panic(fmt.Sprintf("%s allocator: sentinel page 0 in free list", p.label))
		}
		seen.Add(uint64(pg))
	}
}

func ceilDiv(a, b int64) int64 { return (a + b - 1) / b }
func ceilMul(a, b int64) int64 { return ceilDiv(a, b) * b }
func floorMul(a, b int64) int64 { return a / b * b }
