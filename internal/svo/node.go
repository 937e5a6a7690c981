// Package svo holds the sparse voxel octree model and its flat word encoding.
package svo

import "math/bits"

// Occupancy is the oracle's answer for a box.
type Occupancy uint8

const (
	Empty Occupancy = iota
	Occupied
	Mixed
)

func (o Occupancy) String() string {
	switch o {
	case Empty:
		return "empty"
	case Occupied:
		return "occupied"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Box is a half-open integer box [Min, Max) in voxel space.
type Box struct {
	Min [3]int
	Max [3]int
}

func Cube(origin [3]int, size int) Box {
	return Box{Min: origin, Max: [3]int{origin[0] + size, origin[1] + size, origin[2] + size}}
}

func (b Box) Size(axis int) int { return b.Max[axis] - b.Min[axis] }

func (b Box) Empty() bool {
	return b.Size(0) <= 0 || b.Size(1) <= 0 || b.Size(2) <= 0
}

// Octant returns child box i (i = z*4 + y*2 + x) of b.
func (b Box) Octant(i int) Box {
	var out Box
	for axis := 0; axis < 3; axis++ {
		mid := b.Min[axis] + b.Size(axis)/2
		if (i>>axis)&1 == 0 {
			out.Min[axis], out.Max[axis] = b.Min[axis], mid
		} else {
			out.Min[axis], out.Max[axis] = mid, b.Max[axis]
		}
	}
	return out
}

// Oracle answers occupancy and color questions for tree construction.
type Oracle interface {
	Sample(b Box) Occupancy
	// ColorAt returns a 24-bit RGB value.
	ColorAt(p [3]int) uint32
}

// Node is one octree node. Children are owned exclusively by their parent.
// ChildMask bit 7-i is set iff Children[i] is present.
type Node struct {
	ChildMask uint8
	Children  [8]*Node
	Color     uint32
}

func NewLeaf(color uint32) *Node { return &Node{Color: color & ColorMask} }

func (n *Node) IsLeaf() bool { return n.ChildMask == 0 }

// SetChild installs c at slot i and keeps the mask in sync.
func (n *Node) SetChild(i int, c *Node) {
	n.Children[i] = c
	if c == nil {
		n.ChildMask &^= childBit(i)
	} else {
		n.ChildMask |= childBit(i)
	}
}

func (n *Node) ChildCount() int { return bits.OnesCount8(n.ChildMask) }

// Count returns the number of nodes in the subtree rooted at n.
func (n *Node) Count() int {
	if n == nil {
		return 0
	}
	c := 1
	for _, ch := range n.Children {
		c += ch.Count()
	}
	return c
}

func childBit(i int) uint8 { return uint8(1) << (7 - i) }

// ChildIndex maps a position inside a node of the given size to a child slot.
func ChildIndex(x, y, z, half int) int {
	i := 0
	if x >= half {
		i |= 1
	}
	if y >= half {
		i |= 2
	}
	if z >= half {
		i |= 4
	}
	return i
}
