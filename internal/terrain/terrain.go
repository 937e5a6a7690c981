// Package terrain is a seeded heightfield that answers octree occupancy
// queries for one chunk at a time. z is up.
package terrain

import (
	"math"

	"voxelstream.ai/internal/mathx"
	"voxelstream.ai/internal/svo"
)

type Params struct {
	Seed        int64   `yaml:"seed"`
	Frequency   float64 `yaml:"frequency"` // base lattice frequency per world unit
	Octaves     int     `yaml:"octaves"`
	HeightScale float64 `yaml:"height_scale"` // world height of a normalized 1.0
}

func DefaultParams() Params {
	return Params{Seed: 1337, Frequency: 0.004, Octaves: 6, HeightScale: 256}
}

type Field struct {
	p Params
}

func New(p Params) *Field {
	if p.Octaves <= 0 {
		p.Octaves = 1
	}
	return &Field{p: p}
}

func (f *Field) Params() Params { return f.p }

// Height returns the normalized height in [0, 1) at world (x, y).
func (f *Field) Height(x, y float64) float64 {
	sum, norm, amp, freq := 0.0, 0.0, 1.0, f.p.Frequency
	for o := 0; o < f.p.Octaves; o++ {
		sum += amp * f.value(int64(o), x*freq, y*freq)
		norm += amp
		amp *= 0.5
		freq *= 2
	}
	return sum / norm
}

func (f *Field) value(octave int64, x, y float64) float64 {
	seed := f.p.Seed*31 + octave
	x0, y0 := math.Floor(x), math.Floor(y)
	ix, iy := int(x0), int(y0)
	tx, ty := mathx.Smoothstep(x-x0), mathx.Smoothstep(y-y0)
	a := mathx.Unit2(seed, ix, iy)
	b := mathx.Unit2(seed, ix+1, iy)
	c := mathx.Unit2(seed, ix, iy+1)
	d := mathx.Unit2(seed, ix+1, iy+1)
	return mathx.Lerp(mathx.Lerp(a, b, tx), mathx.Lerp(c, d, tx), ty)
}

// Color bands by normalized height.
const (
	ColorSnow   = 0xFFFFFF
	ColorRock   = 0x7F8386
	ColorForest = 0x3A5F0B
	ColorGrass  = 0x6B8E23
	ColorSand   = 0xC2B280
	ColorWater  = 0x1E90FF
)

func ColorForHeight(h float64) uint32 {
	switch {
	case h > 0.7:
		return ColorSnow
	case h > 0.55:
		return ColorRock
	case h > 0.4:
		return ColorForest
	case h > 0.25:
		return ColorGrass
	case h > 0.15:
		return ColorSand
	default:
		return ColorWater
	}
}

// ChunkSpec places one chunk in the world.
type ChunkSpec struct {
	Coords     [3]int
	Resolution int     // voxels per edge at this LOD
	Extent     float64 // world edge length of the chunk
}

func (c ChunkSpec) VoxelSize() float64 { return c.Extent / float64(c.Resolution) }

// ChunkOracle answers svo.Oracle queries in chunk-local voxel space
// [0, Resolution)^3.
type ChunkOracle struct {
	res    int
	top    []int32 // first empty z per column, local voxels
	height []float32
}

var _ svo.Oracle = (*ChunkOracle)(nil)

func (f *Field) Chunk(c ChunkSpec) *ChunkOracle {
	r := c.Resolution
	vs := c.VoxelSize()
	ox := float64(c.Coords[0]) * c.Extent
	oy := float64(c.Coords[1]) * c.Extent
	oz := float64(c.Coords[2]) * c.Extent
	o := &ChunkOracle{res: r, top: make([]int32, r*r), height: make([]float32, r*r)}
	for y := 0; y < r; y++ {
		wy := oy + (float64(y)+0.5)*vs
		for x := 0; x < r; x++ {
			wx := ox + (float64(x)+0.5)*vs
			h := f.Height(wx, wy)
			top := math.Floor((h*f.p.HeightScale - oz) / vs)
			top = math.Max(0, math.Min(top, float64(r)))
			o.top[y*r+x] = int32(top)
			o.height[y*r+x] = float32(h)
		}
	}
	return o
}

func (o *ChunkOracle) Resolution() int { return o.res }

// Top returns the first empty local z of column (x, y).
func (o *ChunkOracle) Top(x, y int) int { return int(o.top[y*o.res+x]) }

func (o *ChunkOracle) Sample(b svo.Box) svo.Occupancy {
	empty, solid := true, true
	for y := b.Min[1]; y < b.Max[1]; y++ {
		for x := b.Min[0]; x < b.Max[0]; x++ {
			top := int(o.top[y*o.res+x])
			if top > b.Min[2] {
				empty = false
			}
			if top < b.Max[2] {
				solid = false
			}
			if !empty && !solid {
				return svo.Mixed
			}
		}
	}
	switch {
	case empty:
		return svo.Empty
	case solid:
		return svo.Occupied
	default:
		return svo.Mixed
	}
}

func (o *ChunkOracle) ColorAt(p [3]int) uint32 {
	x := clamp(p[0], 0, o.res-1)
	y := clamp(p[1], 0, o.res-1)
	return ColorForHeight(float64(o.height[y*o.res+x]))
}

// Empty reports whether the chunk holds no voxels at all.
func (o *ChunkOracle) Empty() bool {
	for _, t := range o.top {
		if t > 0 {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Oracle adapts Chunk to the generator's source interface.
func (f *Field) Oracle(c ChunkSpec) svo.Oracle { return f.Chunk(c) }
