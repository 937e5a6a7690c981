package svo

import (
	"errors"
	"fmt"
	"math/bits"
)

const (
	ColorMask = 0x00FFFFFF

	// MaxInlineOffset is the largest child offset stored directly in a word.
	MaxInlineOffset = 1<<23 - 1
	// MaxFarValues bounds the far table of a single chunk.
	MaxFarValues = 1 << 23

	farFlag    = uint32(1) << 23
	offsetMask = uint32(1)<<23 - 1
)

var ErrFarValuesExhausted = errors.New("svo: far value index space exhausted")

// Flat is the linear encoding of one or more chunks.
//
// Word layout: bits 31..24 child mask. Mask 0: bits 23..0 color. Otherwise
// bit 23 is the far flag and bits 22..0 hold either the forward offset to
// the first child or an index into FarValues holding that offset.
type Flat struct {
	NodeCount uint32
	Nodes     []uint32
	FarValues []uint32
}

func (f *Flat) Reset() {
	f.NodeCount = 0
	f.Nodes = f.Nodes[:0]
	f.FarValues = f.FarValues[:0]
}

func (f *Flat) Empty() bool { return len(f.Nodes) == 0 }

// Append flattens root breadth-first onto the end of f and returns the index
// of the root word. Far indices are relative to the far table length at call
// time. On error f is left as it was.
//
// A mask bit without a child, or a child without a mask bit, panics.
func (f *Flat) Append(root *Node, nodeCount int) (uint32, error) {
	return f.appendLimits(root, nodeCount, MaxInlineOffset, MaxFarValues)
}

type pending struct {
	n   *Node
	idx uint32
}

func (f *Flat) appendLimits(root *Node, nodeCount int, maxInline uint32, maxFar int) (uint32, error) {
	if root == nil {
		return 0, fmt.Errorf("svo: flatten nil root")
	}
	nodeBase, farBase := len(f.Nodes), len(f.FarValues)
	if nodeCount > 0 && cap(f.Nodes)-nodeBase < nodeCount {
		grown := make([]uint32, nodeBase, nodeBase+nodeCount)
		copy(grown, f.Nodes)
		f.Nodes = grown
	}

	rootIdx := uint32(nodeBase)
	f.Nodes = append(f.Nodes, 0)
	queue := []pending{{n: root, idx: rootIdx}}
	for head := 0; head < len(queue); head++ {
		p := queue[head]
		queue[head].n = nil
		n := p.n
		if n.ChildMask == 0 {
			for i, c := range n.Children {
				if c != nil {
					panic(fmt.Sprintf("svo: leaf has child in slot %d", i))
				}
			}
			f.Nodes[p.idx] = n.Color & ColorMask
			continue
		}

		first := uint32(len(f.Nodes))
		cnt := bits.OnesCount8(n.ChildMask)
		for i := 0; i < cnt; i++ {
			f.Nodes = append(f.Nodes, 0)
		}
		slot := 0
		for i := 0; i < 8; i++ {
			c := n.Children[i]
			if n.ChildMask&childBit(i) == 0 {
				if c != nil {
					panic(fmt.Sprintf("svo: child in slot %d not in mask %08b", i, n.ChildMask))
				}
				continue
			}
			if c == nil {
				panic(fmt.Sprintf("svo: mask %08b names slot %d with no child", n.ChildMask, i))
			}
			if want := bits.OnesCount8(n.ChildMask >> (8 - i)); want != slot {
				panic(fmt.Sprintf("svo: child slot %d at position %d, want %d", i, slot, want))
			}
			queue = append(queue, pending{n: c, idx: first + uint32(slot)})
			slot++
		}

		word := uint32(n.ChildMask) << 24
		offset := first - p.idx
		if offset > maxInline {
			farIdx := len(f.FarValues) - farBase
			if farIdx >= maxFar {
				f.Nodes = f.Nodes[:nodeBase]
				f.FarValues = f.FarValues[:farBase]
				return 0, fmt.Errorf("flatten %d nodes: %w", nodeCount, ErrFarValuesExhausted)
			}
			f.FarValues = append(f.FarValues, offset)
			word |= farFlag | uint32(farIdx)
		} else {
			word |= offset
		}
		f.Nodes[p.idx] = word
	}
	f.NodeCount += uint32(len(f.Nodes) - nodeBase)
	return rootIdx, nil
}

// Flatten encodes a single tree into a fresh Flat.
func Flatten(root *Node, nodeCount int) (Flat, error) {
	var f Flat
	if _, err := f.Append(root, nodeCount); err != nil {
		return Flat{}, err
	}
	return f, nil
}

// Word accessors.

func WordMask(w uint32) uint8    { return uint8(w >> 24) }
func WordColor(w uint32) uint32  { return w & ColorMask }
func WordFar(w uint32) bool      { return w>>24 != 0 && w&farFlag != 0 }
func WordOffset(w uint32) uint32 { return w & offsetMask }
