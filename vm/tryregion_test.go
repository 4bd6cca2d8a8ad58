package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionTable_OrdersOuterFirst(t *testing.T) {
	var rt RegionTable
	require.NoError(t, rt.Add(10, 20, Handler{Kind: HandlerFinally, Offset: 30}))
	require.NoError(t, rt.Add(0, 40, Handler{Kind: HandlerCatch, Offset: 50}))
	require.NoError(t, rt.Add(10, 30, Handler{Kind: HandlerFault, Offset: 60}))
	require.NoError(t, rt.Add(10, 20, Handler{Kind: HandlerCatch, Offset: 70}))

	regions := rt.Regions()
	require.Len(t, regions, 3)
	assert.Equal(t, [2]int{0, 40}, [2]int{regions[0].Begin, regions[0].End})
	assert.Equal(t, [2]int{10, 30}, [2]int{regions[1].Begin, regions[1].End})
	assert.Equal(t, [2]int{10, 20}, [2]int{regions[2].Begin, regions[2].End})

	require.Len(t, regions[2].Handlers, 2)
	assert.Equal(t, 30, regions[2].Handlers[0].Offset)
	assert.Equal(t, 70, regions[2].Handlers[1].Offset)
	assert.NoError(t, rt.Validate())
}

func TestRegionTable_Starting(t *testing.T) {
	var rt RegionTable
	require.NoError(t, rt.Add(10, 20, Handler{Kind: HandlerFinally}))
	require.NoError(t, rt.Add(10, 30, Handler{Kind: HandlerFinally}))
	require.NoError(t, rt.Add(12, 18, Handler{Kind: HandlerFinally}))

	starting := rt.Starting(10)
	require.Len(t, starting, 2)
	assert.Equal(t, 30, starting[0].End, "outermost first")
	assert.Equal(t, 20, starting[1].End)
	assert.Empty(t, rt.Starting(11))
}

func TestRegionTable_Rejects(t *testing.T) {
	var rt RegionTable
	assert.ErrorIs(t, rt.Add(5, 5, Handler{Kind: HandlerFinally}), ErrBadBytecode)
	assert.ErrorIs(t, rt.Add(-1, 5, Handler{Kind: HandlerFinally}), ErrBadBytecode)
	assert.ErrorIs(t, rt.Add(0, 5, Handler{Kind: HandlerKind(9)}), ErrBadBytecode)
	assert.Equal(t, 0, rt.Len())

	require.NoError(t, rt.Add(0, 10, Handler{Kind: HandlerFinally}))
	require.NoError(t, rt.Add(5, 15, Handler{Kind: HandlerFinally}))
	assert.ErrorIs(t, rt.Validate(), ErrBadBytecode)
}

func TestRegionTable_DisjointRegionsValidate(t *testing.T) {
	var rt RegionTable
	require.NoError(t, rt.Add(0, 10, Handler{Kind: HandlerFinally}))
	require.NoError(t, rt.Add(10, 20, Handler{Kind: HandlerFinally}))
	require.NoError(t, rt.Add(2, 8, Handler{Kind: HandlerCatch}))
	assert.NoError(t, rt.Validate())
}

func TestTryRegion_Contains(t *testing.T) {
	r := &TryRegion{Begin: 4, End: 8}
	assert.False(t, r.contains(3))
	assert.True(t, r.contains(4))
	assert.True(t, r.contains(7))
	assert.False(t, r.contains(8))
}

func TestHandlerKind_String(t *testing.T) {
	assert.Equal(t, "catch", HandlerCatch.String())
	assert.Equal(t, "filter", HandlerFilter.String())
	assert.Equal(t, "finally", HandlerFinally.String())
	assert.Equal(t, "fault", HandlerFault.String())
	assert.Equal(t, "handler(3)", HandlerKind(3).String())
}
