package pageset

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/23skdu/kvalloc/internal/core"
)

func TestPageSetPool_ReturnsClearedBitmaps(t *testing.T) {
	bm := GetPageSet()
	bm.Add(7)
	bm.Add(42)
	assert.Equal(t, uint64(2), bm.GetCardinality())

	PutPageSet(bm)

	got := GetPageSet()
	defer PutPageSet(got)
	assert.True(t, got.IsEmpty(), "pooled bitmap must come back cleared")
}

func TestPages_SortedExtraction(t *testing.T) {
	bm := GetPageSet()
	defer PutPageSet(bm)

	for _, page := range []uint64{9, 1, 4, 1, 9} {
		bm.Add(page)
	}
	assert.Equal(t, []core.PageID{1, 4, 9}, Pages(bm))
}

func TestPageSetPool_NilPutIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { globalPageSetPool.Put(nil) })
}
