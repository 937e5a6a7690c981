package lod

// Request is one chunk the viewer wants, with the slot that will hold it.
type Request struct {
	Slot       Coord
	Chunk      Coord
	Resolution int
}

// Planner enumerates requests around a viewer in shell order.
type Planner struct {
	Policy Policy
	Grid   Grid
	shells []Coord
}

func NewPlanner(p Policy, g Grid) *Planner {
	return &Planner{Policy: p, Grid: g, shells: g.Shells()}
}

// Each calls fn for every slot in the window around v, nearest shell first,
// stopping early if fn returns false.
func (pl *Planner) Each(v View, fn func(Request) bool) {
	for _, d := range pl.shells {
		slot, ok := pl.Grid.Slot(v.GridPos, d)
		if !ok {
			continue
		}
		r := Request{Slot: slot, Chunk: v.Chunk.Add(d), Resolution: pl.Policy.Resolution(d)}
		if !fn(r) {
			return
		}
	}
}

func (pl *Planner) Requests(v View) []Request {
	out := make([]Request, 0, pl.Grid.Slots())
	pl.Each(v, func(r Request) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Wants reports whether a job for chunk at resolution is still what the
// viewer at v would request.
func (pl *Planner) Wants(v View, chunk Coord, resolution int) bool {
	d := chunk.Sub(v.Chunk)
	lo, hi := pl.Grid.Window()
	if d.X < lo || d.X > hi || d.Y < lo || d.Y > hi {
		return false
	}
	if _, ok := pl.Grid.Slot(v.GridPos, d); !ok {
		return false
	}
	return pl.Policy.Resolution(d) == resolution
}
