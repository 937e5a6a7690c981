package lod

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/mathx"
)

// View is the part of the camera the scheduler needs.
type View struct {
	Chunk   Coord // unwrapped chunk coordinate
	GridPos Coord // wrapped slot, z unwrapped
}

// Camera tracks the viewer position in world units and chunk terms.
// It is not safe for concurrent use.
type Camera struct {
	grid   Grid
	extent float32

	Position  mgl32.Vec3
	Local     mgl32.Vec3 // within [0, extent) per axis
	Direction mgl32.Vec3
	Chunk     Coord
	GridPos   Coord
}

func NewCamera(g Grid, extent float32, pos mgl32.Vec3) *Camera {
	c := &Camera{grid: g, extent: extent, Direction: mgl32.Vec3{1, 0, 0}}
	c.SetPosition(pos)
	return c
}

func (c *Camera) Extent() float32 { return c.extent }

func (c *Camera) View() View { return View{Chunk: c.Chunk, GridPos: c.GridPos} }

// UpdatePosition moves by delta, stepping the chunk coordinate at most one
// chunk per axis. Larger jumps must go through SetPosition.
func (c *Camera) UpdatePosition(delta mgl32.Vec3) {
	c.Position = c.Position.Add(delta)
	c.Local = c.Local.Add(delta)
	step := [3]*int{&c.Chunk.X, &c.Chunk.Y, &c.Chunk.Z}
	for i := 0; i < 3; i++ {
		switch {
		case c.Local[i] >= c.extent:
			c.Local[i] -= c.extent
			*step[i]++
		case c.Local[i] < 0:
			c.Local[i] += c.extent
			*step[i]--
		}
	}
	c.GridPos = c.grid.SlotOf(c.Chunk)
}

// SetPosition places the camera at pos, recomputing the chunk from scratch.
func (c *Camera) SetPosition(pos mgl32.Vec3) {
	c.Position = pos
	var ch [3]int
	for i := 0; i < 3; i++ {
		ch[i] = mathx.FloorToInt(float64(pos[i]) / float64(c.extent))
		c.Local[i] = pos[i] - float32(ch[i])*c.extent
		if c.Local[i] >= c.extent || c.Local[i] < 0 {
			// float rounding at a chunk boundary
			c.Local[i] = float32(math.Max(0, math.Min(float64(c.Local[i]), float64(c.extent)-1e-3)))
		}
	}
	c.Chunk = Coord{ch[0], ch[1], ch[2]}
	c.GridPos = c.grid.SlotOf(c.Chunk)
}

func (c *Camera) LookAt(dir mgl32.Vec3) {
	if dir.Len() > 0 {
		c.Direction = dir.Normalize()
	}
}
