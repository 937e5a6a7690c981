package lod

import (
	"sort"

	"voxelstream.ai/internal/mathx"
)

// Grid is a Size x Size x Height ring of chunk slots. x and y wrap, z does not.
type Grid struct {
	Size   int
	Height int
}

func (g Grid) Slots() int   { return g.Size * g.Size * g.Height }
func (g Grid) ThreeD() bool { return g.Height > 1 }

func (g Grid) Wrap(v int) int { return mathx.Mod(v, g.Size) }

// SlotOf returns the grid slot holding chunk c.
func (g Grid) SlotOf(c Coord) Coord { return Coord{g.Wrap(c.X), g.Wrap(c.Y), c.Z} }

// Slot resolves the slot at delta from the viewer's slot. ok is false when
// the z component leaves [0, Height).
func (g Grid) Slot(viewer Coord, d Coord) (Coord, bool) {
	z := viewer.Z + d.Z
	if z < 0 || z >= g.Height {
		return Coord{}, false
	}
	return Coord{g.Wrap(viewer.X + d.X), g.Wrap(viewer.Y + d.Y), z}, true
}

func (g Grid) Index(s Coord) int { return (s.Z*g.Size+s.Y)*g.Size + s.X }

func (g Grid) FromIndex(i int) Coord {
	return Coord{X: i % g.Size, Y: (i / g.Size) % g.Size, Z: i / (g.Size * g.Size)}
}

// Window returns the inclusive xy delta range that maps to distinct slots.
func (g Grid) Window() (lo, hi int) {
	lo = -(g.Size / 2)
	return lo, lo + g.Size - 1
}

// Shells lists every candidate delta around the viewer ordered by Chebyshev
// distance, nearest first. Order within a shell is z, y, x ascending.
func (g Grid) Shells() []Coord {
	lo, hi := g.Window()
	var out []Coord
	for dz := -(g.Height - 1); dz <= g.Height-1; dz++ {
		for dy := lo; dy <= hi; dy++ {
			for dx := lo; dx <= hi; dx++ {
				out = append(out, Coord{dx, dy, dz})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Shell(out[i]) < Shell(out[j])
	})
	return out
}

func Shell(d Coord) int { return mathx.MaxAbs3(d.X, d.Y, d.Z) }
