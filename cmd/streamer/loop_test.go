package main

import (
	"bytes"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"voxelstream.ai/internal/campath"
	"voxelstream.ai/internal/lod"
	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/stream"
	"voxelstream.ai/internal/transfer"
	"voxelstream.ai/internal/transport/observer"
)

func TestDriverStraightLine(t *testing.T) {
	grid := lod.Grid{Size: 3, Height: 1}
	d := newDriver(lod.NewCamera(grid, 32, mgl32.Vec3{30, 1, 1}), 8)

	v := d.advance(0.5) // 4 units along +x crosses into chunk 1
	require.Equal(t, lod.Coord{X: 1}, v.Chunk)
	require.Equal(t, lod.Coord{X: 1}, v.GridPos)
	require.InDelta(t, 34, d.cam.Position.X(), 1e-4)
}

func TestDriverPathWrapUsesExactPosition(t *testing.T) {
	path, err := campath.Parse([]byte(`{"fov":60,"keyframes":[
		{"time":0,"position":[0,0,0],"direction":[1,0,0]},
		{"time":10,"position":[320,0,0],"direction":[1,0,0]}]}`))
	require.NoError(t, err)

	grid := lod.Grid{Size: 5, Height: 1}
	d := newDriver(lod.NewCamera(grid, 32, mgl32.Vec3{}), 0)
	d.path = &path

	v := d.advance(9.9)
	require.Equal(t, 9, v.Chunk.X)

	// Wrapping back to the start is a jump of many chunks.
	v = d.advance(0.2)
	require.Equal(t, 0, v.Chunk.X)
	require.Equal(t, lod.Coord{}, v.GridPos)
}

type fakeReader struct{ reads []transfer.Target }

func (f *fakeReader) Read(t transfer.Target, off, n uint32) []uint32 {
	f.reads = append(f.reads, t)
	return make([]uint32, n)
}

func TestLoaded(t *testing.T) {
	chunks := []stream.CpuChunk{{RootNodeIndex: 4}, {}, {RootNodeIndex: 9}}
	require.Equal(t, 2, loaded(chunks))
}

func TestPublishReadsOnlyLoadedRegions(t *testing.T) {
	obs, err := observer.NewServer(func() observerproto.BootstrapResponse { return observerproto.BootstrapResponse{} }, false, nil)
	require.NoError(t, err)

	r := &fakeReader{}
	publish(obs, r, []stream.Applied{
		{Chunk: stream.CpuChunk{Resolution: 8}},
		{Chunk: stream.CpuChunk{RootNodeIndex: 3, ChunkSize: 9, Resolution: 32}},
		{Chunk: stream.CpuChunk{RootNodeIndex: 12, ChunkSize: 4, FarValuesOffset: 1, OffsetSize: 2, Resolution: 32}},
	}, log.New(io.Discard, "", 0))
	require.Equal(t, []transfer.Target{transfer.Nodes, transfer.Nodes, transfer.FarValues}, r.reads)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishChunk(observerproto.ChunkMsg, []uint32, []uint32) error {
	p.calls++
	return errors.New("observer: encode frame: too large")
}

func TestPublishLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	pub := &failingPublisher{}
	publish(pub, &fakeReader{}, []stream.Applied{
		{Chunk: stream.CpuChunk{Coords: lod.Coord{X: 2, Y: -1}, RootNodeIndex: 3, ChunkSize: 9, Resolution: 32}},
		{Chunk: stream.CpuChunk{Resolution: 8}},
	}, log.New(&buf, "", 0))

	require.Equal(t, 2, pub.calls, "a failed publish does not stop the rest")
	require.Contains(t, buf.String(), "observer: publish chunk (2,-1,0): observer: encode frame: too large")
	require.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}
