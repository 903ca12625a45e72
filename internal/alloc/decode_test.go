package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/kvalloc/internal/core"
)

func TestAllocDecode_FitsInCurrentPage(t *testing.T) {
	a := newPagedForTest(t, 16, 4)

	// Seed a request with 2 tokens in page 1 (slots 4, 5).
	seed, err := a.AllocExtend([]int64{0}, []int64{2}, []int64{-1}, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 5}, seed)
	availBefore := a.AvailableSize()

	// 2 -> 3 tokens: slot 6 is still inside page 1, so no page is drawn.
	out, err := a.AllocDecode([]int64{3}, []int64{5})
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, out)
	assert.Equal(t, availBefore, a.AvailableSize())
}

func TestAllocDecode_OpensFreshPage(t *testing.T) {
	a := newPagedForTest(t, 16, 4)

	// Fill page 1 exactly (slots 4..7).
	seed, err := a.AllocExtend([]int64{0}, []int64{4}, []int64{-1}, 4)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 5, 6, 7}, seed)

	// 4 -> 5 tokens crosses the page boundary: the token takes the first
	// slot of the next free page.
	out, err := a.AllocDecode([]int64{5}, []int64{7})
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, out)
	assert.Equal(t, int64(8), a.AvailableSize())
}

func TestAllocDecode_MixedBatch(t *testing.T) {
	a := newPagedForTest(t, 32, 4)

	// Request 0 sits mid-page (3 tokens), request 1 at a page boundary
	// (4 tokens), request 2 mid-page (5 tokens).
	seed, err := a.AllocExtend(
		[]int64{0, 0, 0}, []int64{3, 4, 5}, []int64{-1, -1, -1}, 12)
	require.NoError(t, err)
	require.Len(t, seed, 12)
	availBefore := a.AvailableSize()

	out, err := a.AllocDecode(
		[]int64{4, 5, 6},
		[]int64{seed[2], seed[6], seed[11]})
	require.NoError(t, err)
	require.Len(t, out, 3)

	// Requests 0 and 2 extend in place; request 1 opens one fresh page.
	assert.Equal(t, seed[2]+1, out[0])
	assert.Equal(t, seed[11]+1, out[2])
	assert.Zero(t, out[1]%4, "boundary request should start a page")
	assert.Equal(t, availBefore-4, a.AvailableSize())
}

func TestAllocDecode_RejectsWithoutSideEffects(t *testing.T) {
	a := newPagedForTest(t, 8, 4)

	// Consume both pages.
	_, err := a.Alloc(8)
	require.NoError(t, err)
	require.Equal(t, int64(0), a.AvailableSize())

	before, err := a.BackupState()
	require.NoError(t, err)

	// A boundary-crossing decode needs a page that is not there.
	_, err = a.AllocDecode([]int64{5}, []int64{7})
	require.ErrorIs(t, err, ErrNoSpace)

	after, err := a.BackupState()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAllocDecode_ShapeMismatch(t *testing.T) {
	a := newPagedForTest(t, 16, 4)

	_, err := a.AllocDecode([]int64{4, 5}, []int64{3})
	var invalid *core.ErrInvalidArgument
	require.ErrorAs(t, err, &invalid)
}

func TestAllocDecode_DebugRejectsMisalignedLastLoc(t *testing.T) {
	prev := debugPool
	debugPool = true
	defer func() { debugPool = prev }()

	a := newPagedForTest(t, 16, 4)
	assert.Panics(t, func() {
		// seqLen 5 demands (lastLoc+2) % 4 == 1; lastLoc 4 gives 2.
		_, _ = a.AllocDecode([]int64{5}, []int64{4})
	})
}
