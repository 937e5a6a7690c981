package svo

import "voxelstream.ai/internal/mathx"

// Build constructs the octree for box at the given target resolution and
// returns it with its node count. A fully empty box yields (nil, 0).
//
// Subdivision stops at depth ceil(log2(resolution)); a box still reported as
// mixed there becomes a leaf colored from its min corner.
func Build(o Oracle, box Box, resolution int) (*Node, int) {
	return build(o, box, 0, mathx.CeilLog2(resolution))
}

func build(o Oracle, box Box, depth, maxDepth int) (*Node, int) {
	switch occ := o.Sample(box); {
	case occ == Empty:
		return nil, 0
	case occ == Occupied, depth >= maxDepth, unitBox(box):
		return NewLeaf(o.ColorAt(box.Min)), 1
	}

	n := &Node{}
	count := 1
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				i := z*4 + y*2 + x
				sub := box.Octant(i)
				if sub.Empty() {
					continue
				}
				child, k := build(o, sub, depth+1, maxDepth)
				if child == nil {
					continue
				}
				n.SetChild(i, child)
				count += k
			}
		}
	}
	if n.ChildMask == 0 {
		// Oracle said mixed but every octant came back empty.
		return nil, 0
	}
	return n, count
}

func unitBox(b Box) bool {
	return b.Size(0) <= 1 && b.Size(1) <= 1 && b.Size(2) <= 1
}
