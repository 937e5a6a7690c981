// Package lod chooses chunk resolutions from viewer distance and keeps the
// toroidal chunk grid that follows the viewer.
package lod

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Coord is an integer chunk coordinate or delta.
type Coord struct{ X, Y, Z int }

func (c Coord) Add(o Coord) Coord { return Coord{c.X + o.X, c.Y + o.Y, c.Z + o.Z} }
func (c Coord) Sub(o Coord) Coord { return Coord{c.X - o.X, c.Y - o.Y, c.Z - o.Z} }
func (c Coord) Array() [3]int     { return [3]int{c.X, c.Y, c.Z} }
func (c Coord) String() string    { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }

func (c Coord) Vec3() mgl32.Vec3 { return mgl32.Vec3{float32(c.X), float32(c.Y), float32(c.Z)} }

// ResolutionForDistance halves maxRes once per doubling of distance:
// maxRes >> floor(log2(max(distance, 1))), clamped to [minRes, maxRes].
func ResolutionForDistance(maxRes, minRes int, distance float64) int {
	if math.IsNaN(distance) || distance < 1 {
		distance = 1
	}
	lod := int(math.Floor(math.Log2(distance)))
	if lod > 30 {
		lod = 30
	}
	res := maxRes >> lod
	if res < minRes {
		res = minRes
	}
	if res > maxRes {
		res = maxRes
	}
	return res
}

// Policy maps a chunk offset from the viewer's chunk to a resolution.
type Policy struct {
	MinResolution   int
	MaxResolution   int
	ChunkResolution int     // voxels per chunk edge at full detail
	VoxelScale      float32 // world units per full-detail voxel
	DistanceDivisor float32
}

// Extent is the world-space edge length of one chunk.
func (p Policy) Extent() float32 { return float32(p.ChunkResolution) * p.VoxelScale }

// Distance is the scaled distance from the viewer to the near face of the
// chunk at delta.
func (p Policy) Distance(delta Coord) float64 {
	ext := p.Extent()
	d := delta.Vec3().Mul(ext).Len() - ext/2
	div := p.DistanceDivisor
	if div <= 0 {
		div = 1
	}
	return float64(d / div)
}

func (p Policy) Resolution(delta Coord) int {
	return ResolutionForDistance(p.MaxResolution, p.MinResolution, p.Distance(delta))
}
