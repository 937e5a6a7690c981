// Package region implements a best-fit free-list allocator over a fixed
// linear index space. Offset 0 is reserved and never handed out.
package region

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

var (
	ErrZeroSize     = errors.New("region: zero-size allocation")
	ErrOutOfSpace   = errors.New("region: out of space")
	ErrNotAllocated = errors.New("region: offset not allocated")
)

// Extent is one contiguous run of the index space.
type Extent struct {
	Offset   uint32
	Length   uint32
	Occupied bool
}

func (e Extent) End() uint32 { return e.Offset + e.Length }

// Allocator hands out extents of [1, capacity). Extents stay sorted and
// contiguous; no two neighbouring extents are both free.
type Allocator struct {
	name     string
	capacity uint32
	logger   *log.Logger

	mu      sync.Mutex
	extents []Extent
	used    uint32
	live    int
}

func New(name string, capacity uint32, logger *log.Logger) *Allocator {
	if logger == nil {
		logger = log.Default()
	}
	a := &Allocator{name: name, capacity: capacity, logger: logger}
	if capacity > 1 {
		a.extents = []Extent{{Offset: 1, Length: capacity - 1}}
	}
	return a
}

func (a *Allocator) Name() string     { return a.name }
func (a *Allocator) Capacity() uint32 { return a.capacity }

// Allocate reserves size units using the smallest free extent that fits,
// lowest offset first on ties.
func (a *Allocator) Allocate(size uint32) (uint32, error) {
	if size == 0 {
		a.logger.Printf("%s: allocate called with size 0", a.name)
		return 0, ErrZeroSize
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	best := -1
	for i, e := range a.extents {
		if e.Occupied || e.Length < size {
			continue
		}
		if best < 0 || e.Length < a.extents[best].Length {
			best = i
			if e.Length == size {
				break
			}
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("%s: allocate %d: %w", a.name, size, ErrOutOfSpace)
	}

	e := a.extents[best]
	off := e.Offset
	if rem := e.Length - size; rem > 0 {
		a.extents = append(a.extents, Extent{})
		copy(a.extents[best+2:], a.extents[best+1:])
		a.extents[best+1] = Extent{Offset: off + size, Length: rem}
	}
	a.extents[best] = Extent{Offset: off, Length: size, Occupied: true}
	a.used += size
	a.live++
	return off, nil
}

// Free releases the extent that starts at offset and merges it with free
// neighbours.
func (a *Allocator) Free(offset uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := sort.Search(len(a.extents), func(i int) bool { return a.extents[i].Offset >= offset })
	if i == len(a.extents) || a.extents[i].Offset != offset || !a.extents[i].Occupied {
		a.logger.Printf("%s: free of unallocated offset %d", a.name, offset)
		return fmt.Errorf("%s: free %d: %w", a.name, offset, ErrNotAllocated)
	}

	a.used -= a.extents[i].Length
	a.live--
	first, last := i, i
	if i > 0 && !a.extents[i-1].Occupied {
		first = i - 1
	}
	if i+1 < len(a.extents) && !a.extents[i+1].Occupied {
		last = i + 1
	}
	merged := Extent{Offset: a.extents[first].Offset, Length: a.extents[last].End() - a.extents[first].Offset}
	a.extents[first] = merged
	if last > first {
		a.extents = append(a.extents[:first+1], a.extents[last+1:]...)
	}
	return nil
}

// Extents returns a copy of the current extent list.
func (a *Allocator) Extents() []Extent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Extent, len(a.extents))
	copy(out, a.extents)
	return out
}

// Stats is a point-in-time summary of an allocator.
type Stats struct {
	Name        string
	Capacity    uint32
	Used        uint32
	Free        uint32
	LargestFree uint32
	Extents     int
	Allocations int
}

func (s Stats) String() string {
	pct := 0.0
	if s.Capacity > 1 {
		pct = 100 * float64(s.Used) / float64(s.Capacity-1)
	}
	return fmt.Sprintf("%s: used=%d free=%d (%.1f%%) largest_free=%d extents=%d allocs=%d",
		s.Name, s.Used, s.Free, pct, s.LargestFree, s.Extents, s.Allocations)
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{Name: a.name, Capacity: a.capacity, Used: a.used, Extents: len(a.extents), Allocations: a.live}
	for _, e := range a.extents {
		if e.Occupied {
			continue
		}
		s.Free += e.Length
		if e.Length > s.LargestFree {
			s.LargestFree = e.Length
		}
	}
	return s
}
