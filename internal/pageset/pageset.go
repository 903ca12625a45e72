// Package pageset provides pooled roaring bitmaps for transient page- and
// slot-set work: per-call deduplication on the free path and the debug
// uniqueness checks.
package pageset

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/23skdu/kvalloc/internal/core"
)

// PageSetPool manages a pool of *roaring64.Bitmap objects to reduce GC
// pressure on the free path, which builds and discards a set per call.
type PageSetPool struct {
	pool sync.Pool
}

var globalPageSetPool = &PageSetPool{
	pool: sync.Pool{
		New: func() any {
			return roaring64.NewBitmap()
		},
	},
}

// GetPageSet retrieves a cleared bitmap from the global pool.
func GetPageSet() *roaring64.Bitmap {
	return globalPageSetPool.Get()
}

// PutPageSet returns a bitmap to the global pool after clearing it.
func PutPageSet(bm *roaring64.Bitmap) {
	globalPageSetPool.Put(bm)
}

// Get retrieves a cleared bitmap from the pool.
func (p *PageSetPool) Get() *roaring64.Bitmap {
	return p.pool.Get().(*roaring64.Bitmap)
}

// Put returns a bitmap to the pool.
func (p *PageSetPool) Put(bm *roaring64.Bitmap) {
	if bm != nil {
		bm.Clear()
		p.pool.Put(bm)
	}
}

// Pages returns the set's members as sorted page identifiers. Page and slot
// indices in this module are non-negative, so the conversion is lossless.
func Pages(bm *roaring64.Bitmap) []core.PageID {
	out := make([]core.PageID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, core.PageID(it.Next()))
	}
	return out
}
