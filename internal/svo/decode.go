package svo

import (
	"fmt"
	"math/bits"
)

// FirstChild resolves the index of the first child of the inner node at idx.
// farValues must be the chunk's own far table.
func FirstChild(nodes, farValues []uint32, idx uint32) (uint32, error) {
	w := nodes[idx]
	off := WordOffset(w)
	if WordFar(w) {
		if int(off) >= len(farValues) {
			return 0, fmt.Errorf("svo: node %d far index %d out of range (%d)", idx, off, len(farValues))
		}
		off = farValues[off]
	}
	first := idx + off
	if off == 0 || int(first)+bits.OnesCount8(WordMask(w)) > len(nodes) {
		return 0, fmt.Errorf("svo: node %d child offset %d out of range", idx, off)
	}
	return first, nil
}

// Decode rebuilds the tree rooted at word root using only offsets and far
// pointers.
func Decode(nodes, farValues []uint32, root uint32) (*Node, error) {
	if int(root) >= len(nodes) {
		return nil, fmt.Errorf("svo: root %d out of range (%d)", root, len(nodes))
	}
	type item struct {
		n   *Node
		idx uint32
	}
	out := &Node{}
	queue := []item{{out, root}}
	for head := 0; head < len(queue); head++ {
		it := queue[head]
		w := nodes[it.idx]
		mask := WordMask(w)
		if mask == 0 {
			it.n.Color = WordColor(w)
			continue
		}
		first, err := FirstChild(nodes, farValues, it.idx)
		if err != nil {
			return nil, err
		}
		slot := uint32(0)
		for i := 0; i < 8; i++ {
			if mask&childBit(i) == 0 {
				continue
			}
			c := &Node{}
			it.n.SetChild(i, c)
			queue = append(queue, item{c, first + slot})
			slot++
		}
	}
	return out, nil
}

// Lookup descends from root to the voxel (x, y, z) of a chunk with the given
// resolution. ok is false when the voxel is empty.
func Lookup(nodes, farValues []uint32, root uint32, resolution, x, y, z int) (color uint32, ok bool, err error) {
	if x < 0 || y < 0 || z < 0 || x >= resolution || y >= resolution || z >= resolution {
		return 0, false, nil
	}
	if int(root) >= len(nodes) {
		return 0, false, fmt.Errorf("svo: root %d out of range (%d)", root, len(nodes))
	}
	idx := root
	size := resolution
	for {
		w := nodes[idx]
		mask := WordMask(w)
		if mask == 0 {
			return WordColor(w), true, nil
		}
		half := size / 2
		if half == 0 {
			return 0, false, fmt.Errorf("svo: node %d below unit size", idx)
		}
		ci := ChildIndex(x, y, z, half)
		if mask&childBit(ci) == 0 {
			return 0, false, nil
		}
		first, err := FirstChild(nodes, farValues, idx)
		if err != nil {
			return 0, false, err
		}
		idx = first + uint32(bits.OnesCount8(mask>>(8-ci)))
		x, y, z = x%half, y%half, z%half
		size = half
	}
}

// TreeStats summarises a decoded tree.
type TreeStats struct {
	Nodes  int `json:"nodes"`
	Leaves int `json:"leaves"`
	Depth  int `json:"depth"`
}

func (s TreeStats) String() string {
	return fmt.Sprintf("nodes=%d leaves=%d depth=%d", s.Nodes, s.Leaves, s.Depth)
}

func Stats(root *Node) TreeStats {
	var s TreeStats
	var walk func(n *Node, d int)
	walk = func(n *Node, d int) {
		if n == nil {
			return
		}
		s.Nodes++
		if d > s.Depth {
			s.Depth = d
		}
		if n.IsLeaf() {
			s.Leaves++
			return
		}
		for _, c := range n.Children {
			walk(c, d+1)
		}
	}
	walk(root, 0)
	return s
}

// Equal reports whether two trees have identical shape and leaf colors.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ChildMask != b.ChildMask {
		return false
	}
	if a.IsLeaf() {
		return a.Color&ColorMask == b.Color&ColorMask
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
