package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/kvalloc/internal/kvcache"
)

func newPagedForTest(t *testing.T, size, pageSize int64) *PagedAllocator {
	t.Helper()
	kv, err := kvcache.NewTokenPool(size+pageSize, 8, nil)
	require.NoError(t, err)
	t.Cleanup(kv.Release)
	a, err := NewPaged(size, pageSize, kv)
	require.NoError(t, err)
	return a
}

func TestPaged_InvalidConstruction(t *testing.T) {
	kv, err := kvcache.NewTokenPool(32, 8, nil)
	require.NoError(t, err)
	defer kv.Release()

	_, err = NewPaged(16, 0, kv)
	assert.Error(t, err)
	_, err = NewPaged(18, 4, kv)
	assert.Error(t, err)
	_, err = NewPaged(0, 4, kv)
	assert.Error(t, err)
}

func TestPaged_AllocWholePages(t *testing.T) {
	a := newPagedForTest(t, 16, 4)
	assert.Equal(t, int64(16), a.AvailableSize())

	got, err := a.Alloc(8)
	require.NoError(t, err)
	require.Len(t, got, 8)
	assert.Equal(t, int64(8), a.AvailableSize())

	// The 8 indices span exactly 2 pages, each fully covered.
	pages := map[int64]int{}
	for _, idx := range got {
		pages[idx/4]++
	}
	assert.Len(t, pages, 2)
	for page, count := range pages {
		assert.Equal(t, 4, count)
		assert.NotZero(t, page, "sentinel page must never be allocated")
	}
}

func TestPaged_AllocRejectsOverSubscription(t *testing.T) {
	a := newPagedForTest(t, 16, 4)

	_, err := a.Alloc(20)
	assert.ErrorIs(t, err, ErrNoSpace)
	assert.Equal(t, int64(16), a.AvailableSize())
}

func TestPaged_FreeGroupsWholePages(t *testing.T) {
	a := newPagedForTest(t, 16, 4)

	got, err := a.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), a.AvailableSize())

	// Freeing any tokens of a page releases the whole page; freeing the
	// rest of the same page later must not release it a second time.
	a.Free(got[:2])
	assert.Equal(t, int64(12), a.AvailableSize(), "partial free should release the owning page")
	a.Free(got[2:4])
	assert.Equal(t, int64(12), a.AvailableSize(), "page released twice")

	a.Free(got[4:])
	assert.Equal(t, int64(16), a.AvailableSize())
}

func TestPaged_FreeDeduplicatesWithinBatch(t *testing.T) {
	a := newPagedForTest(t, 16, 4)

	got, err := a.Alloc(8)
	require.NoError(t, err)

	// All 8 tokens in one batch: both pages released once each.
	a.Free(got)
	assert.Equal(t, int64(16), a.AvailableSize())
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, a.freePages)
}

func TestPaged_RoundTripRestoresCapacity(t *testing.T) {
	a := newPagedForTest(t, 64, 8)

	before := a.AvailableSize()
	got, err := a.Alloc(24)
	require.NoError(t, err)
	a.Free(got)
	assert.Equal(t, before, a.AvailableSize())
}

func TestPaged_BackupRestoreRollsBack(t *testing.T) {
	a := newPagedForTest(t, 32, 4)

	backup, err := a.BackupState()
	require.NoError(t, err)

	// Speculative work: draw pages, then roll back.
	_, err = a.Alloc(16)
	require.NoError(t, err)
	assert.Equal(t, int64(16), a.AvailableSize())

	require.NoError(t, a.RestoreState(backup))
	assert.Equal(t, int64(32), a.AvailableSize())
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, a.freePages)
}

func TestPaged_FreeGroupEquivalence(t *testing.T) {
	grouped := newPagedForTest(t, 32, 4)
	direct := newPagedForTest(t, 32, 4)

	g1, err := grouped.Alloc(8)
	require.NoError(t, err)
	g2, err := grouped.Alloc(4)
	require.NoError(t, err)
	d1, err := direct.Alloc(8)
	require.NoError(t, err)
	d2, err := direct.Alloc(4)
	require.NoError(t, err)

	grouped.FreeGroupBegin()
	grouped.Free(g1)
	grouped.Free(g2)
	assert.Equal(t, int64(20), grouped.AvailableSize())
	grouped.FreeGroupEnd()

	direct.Free(append(append([]int64{}, d1...), d2...))

	assert.Equal(t, direct.AvailableSize(), grouped.AvailableSize())
	assert.Equal(t, direct.freePages, grouped.freePages)
}

func TestPaged_CapacityConservation(t *testing.T) {
	a := newPagedForTest(t, 64, 4)

	var outstanding int64
	live := make([][]int64, 0)

	for step := 0; step < 10; step++ {
		got, err := a.Alloc(8)
		if err == nil {
			outstanding += 8
			live = append(live, got)
		}
		if step%3 == 2 && len(live) > 0 {
			a.Free(live[0])
			outstanding -= int64(len(live[0]))
			live = live[1:]
		}
		assert.Equal(t, int64(64), a.AvailableSize()+outstanding)
	}
}

func TestPaged_HostCopyUnsupported(t *testing.T) {
	a := newPagedForTest(t, 16, 4)

	_, err := a.GetCPUCopy([]int64{4})
	assert.Error(t, err)
	assert.Error(t, a.LoadCPUCopy([][]byte{{0}}, []int64{4}))
}

func TestPaged_DebugString(t *testing.T) {
	a := newPagedForTest(t, 16, 4)
	assert.Contains(t, a.DebugString(), "#free-pages: 4")
}

func TestPaged_DebugModeRejectsUnalignedAlloc(t *testing.T) {
	a := newPagedForTest(t, 16, 4)

	prev := debugPool
	debugPool = true
	defer func() { debugPool = prev }()

	assert.Panics(t, func() { _, _ = a.Alloc(6) })
}
