package lod

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlanner() *Planner {
	p := Policy{MinResolution: 8, MaxResolution: 64, ChunkResolution: 64, VoxelScale: 1, DistanceDivisor: 64}
	return NewPlanner(p, Grid{Size: 5, Height: 2})
}

func TestPlannerRequests(t *testing.T) {
	pl := testPlanner()
	cam := NewCamera(pl.Grid, pl.Policy.Extent(), mgl32.Vec3{-10, 70, 5})
	reqs := pl.Requests(cam.View())
	require.Len(t, reqs, pl.Grid.Slots())

	assert.Equal(t, cam.Chunk, reqs[0].Chunk)
	assert.Equal(t, cam.GridPos, reqs[0].Slot)
	assert.Equal(t, 64, reqs[0].Resolution)

	slots := map[Coord]bool{}
	for i, r := range reqs {
		assert.Equal(t, pl.Grid.SlotOf(r.Chunk), r.Slot)
		slots[r.Slot] = true
		if i > 0 {
			assert.LessOrEqual(t, Shell(reqs[i-1].Chunk.Sub(cam.Chunk)), Shell(r.Chunk.Sub(cam.Chunk)))
		}
	}
	assert.Len(t, slots, pl.Grid.Slots())
}

func TestPlannerWants(t *testing.T) {
	pl := testPlanner()
	v := NewCamera(pl.Grid, 64, mgl32.Vec3{32, 32, 32}).View()
	far := Coord{X: 2, Y: 2}
	res := pl.Policy.Resolution(far)
	assert.True(t, pl.Wants(v, far, res))
	assert.False(t, pl.Wants(v, far, res*2))
	assert.False(t, pl.Wants(v, Coord{X: 3}, 64), "outside window")
	assert.False(t, pl.Wants(v, Coord{Z: 2}, 64), "above grid")

	cam := NewCamera(pl.Grid, 64, mgl32.Vec3{32, 32, 32})
	cam.SetPosition(mgl32.Vec3{32 + 64*3, 32, 32})
	assert.False(t, pl.Wants(cam.View(), Coord{}, 64), "viewer moved away")
}

func TestPlannerEachStops(t *testing.T) {
	pl := testPlanner()
	n := 0
	pl.Each(View{}, func(Request) bool { n++; return n < 3 })
	assert.Equal(t, 3, n)
}
