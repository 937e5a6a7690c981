package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"voxelstream.ai/internal/lod"
)

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1.5, -2,300 ")
	require.NoError(t, err)
	require.Equal(t, mgl32.Vec3{1.5, -2, 300}, v)

	_, err = parseVec3("1,2")
	require.Error(t, err)
	_, err = parseVec3("1,x,2")
	require.Error(t, err)
}

func TestRequestsAlongSkipsRepeatedChunks(t *testing.T) {
	grid := lod.Grid{Size: 3, Height: 1}
	pl := lod.NewPlanner(lod.Policy{MinResolution: 8, MaxResolution: 32, ChunkResolution: 32, VoxelScale: 1, DistanceDivisor: 8}, grid)

	one := requestsAlong(pl, 32, []mgl32.Vec3{{1, 1, 1}})
	require.Len(t, one, grid.Slots())

	// Three samples in chunk 0 then one in chunk 1.
	reqs := requestsAlong(pl, 32, []mgl32.Vec3{{1, 1, 1}, {10, 1, 1}, {20, 1, 1}, {40, 1, 1}})
	require.Len(t, reqs, 2*grid.Slots())
	require.Equal(t, lod.Coord{}, reqs[0].Chunk)
	require.Equal(t, lod.Coord{X: 1}, reqs[grid.Slots()].Chunk)

	require.Nil(t, requestsAlong(pl, 32, nil))
}
