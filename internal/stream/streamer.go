package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelstream.ai/internal/chunkgen"
	"voxelstream.ai/internal/lod"
	"voxelstream.ai/internal/region"
	"voxelstream.ai/internal/svo"
	"voxelstream.ai/internal/transfer"
)

// Builder produces the flattened chunk for a coordinate and resolution.
type Builder interface {
	Generate(coords [3]int, resolution int) (chunkgen.Result, error)
}

type Options struct {
	Planner   *lod.Planner
	Builder   Builder
	Nodes     *region.Allocator
	FarValues *region.Allocator
	Device    transfer.Device
	Sinks     []EventSink
	Logger    *log.Logger
}

// Streamer owns the per-slot chunk metadata and the single load worker.
//
// Observe, Scan, Reconcile and the read accessors run on the consumer
// goroutine; the worker only talks back through the result channel.
type Streamer struct {
	planner *lod.Planner
	grid    lod.Grid
	builder Builder
	nodes   *region.Allocator
	far     *region.Allocator
	dev     transfer.Device
	sinks   []EventSink
	logger  *log.Logger

	view atomic.Pointer[lod.View]

	jobs    chan Job
	results chan result
	wg      sync.WaitGroup
	once    sync.Once

	mu       sync.Mutex
	closed   bool
	chunks   []CpuChunk
	failed   []failure
	inflight []result

	counters counters
}

// failure remembers a build that failed for a slot so Scan does not retry
// it until the plan for that slot changes.
type failure struct {
	set        bool
	chunk      lod.Coord
	resolution int
}

type counters struct {
	enqueued, applied, stale, noSpace, failed atomic.Int64
}

type resultKind uint8

const (
	resultCancelled resultKind = iota + 1
	resultFailed
	resultCommitted
)

type result struct {
	job     Job
	kind    resultKind
	outcome Outcome
	err     error

	// buildFailed is set when the builder itself returned err.
	buildFailed bool

	token   transfer.Token
	staging uint32
	chunk   CpuChunk

	cached                 bool
	load, build, flat, all time.Duration
	started                time.Time
}

func New(opts Options) (*Streamer, error) {
	if opts.Planner == nil || opts.Builder == nil || opts.Device == nil || opts.Nodes == nil || opts.FarValues == nil {
		return nil, fmt.Errorf("stream: planner, builder, device and allocators are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	g := opts.Planner.Grid
	n := g.Slots()
	if n <= 0 {
		return nil, fmt.Errorf("stream: empty grid %dx%dx%d", g.Size, g.Size, g.Height)
	}
	s := &Streamer{
		planner: opts.Planner,
		grid:    g,
		builder: opts.Builder,
		nodes:   opts.Nodes,
		far:     opts.FarValues,
		dev:     opts.Device,
		sinks:   opts.Sinks,
		logger:  opts.Logger,
		// One job and one result per slot at most, so sends never block.
		jobs:    make(chan Job, n),
		results: make(chan result, n),
		chunks:  make([]CpuChunk, n),
		failed:  make([]failure, n),
	}
	s.view.Store(&lod.View{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.work()
	}()
	return s, nil
}

func (s *Streamer) Grid() lod.Grid { return s.grid }

// Observe publishes the viewer position used for scans and staleness checks.
func (s *Streamer) Observe(v lod.View) {
	s.view.Store(&v)
}

func (s *Streamer) View() lod.View { return *s.view.Load() }

// Scan walks the window around the viewer nearest shell first and enqueues
// every idle slot whose resident chunk or resolution differs from the
// current plan. It returns the number of jobs enqueued.
func (s *Streamer) Scan() int {
	v := s.View()
	now := time.Now()
	n := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.planner.Each(v, func(r lod.Request) bool {
		idx := s.grid.Index(r.Slot)
		c := &s.chunks[idx]
		if c.Loading || (c.Coords == r.Chunk && int(c.Resolution) == r.Resolution) {
			return true
		}
		if f := &s.failed[idx]; f.set {
			if f.chunk == r.Chunk && f.resolution == r.Resolution {
				return true
			}
			*f = failure{}
		}
		if s.enqueueLocked(Job{Slot: r.Slot, SlotIndex: idx, Chunk: r.Chunk, Resolution: r.Resolution, Enqueued: now}) {
			n++
		}
		return true
	})
	return n
}

// Enqueue submits job unless its slot is already loading. The slot must lie
// inside the grid and be the one the chunk wraps to.
func (s *Streamer) Enqueue(job Job) bool {
	sl := job.Slot
	if sl.X < 0 || sl.X >= s.grid.Size || sl.Y < 0 || sl.Y >= s.grid.Size || sl.Z < 0 || sl.Z >= s.grid.Height {
		return false
	}
	if sl != s.grid.SlotOf(job.Chunk) {
		return false
	}
	job.SlotIndex = s.grid.Index(sl)
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.enqueueLocked(job)
}

func (s *Streamer) enqueueLocked(job Job) bool {
	c := &s.chunks[job.SlotIndex]
	if c.Loading {
		return false
	}
	select {
	case s.jobs <- job:
	default:
		s.logger.Printf("stream: job queue full, dropping %v", job.Chunk)
		return false
	}
	c.Loading = true
	s.counters.enqueued.Add(1)
	return true
}

func (s *Streamer) work() {
	for job := range s.jobs {
		s.results <- s.process(job)
	}
}

func (s *Streamer) stale(job Job) bool {
	return !s.planner.Wants(s.View(), job.Chunk, job.Resolution)
}

func (s *Streamer) process(job Job) (r result) {
	r = result{job: job, started: time.Now()}
	defer func() { r.all = time.Since(r.started) }()

	if s.stale(job) {
		return r.cancel(OutcomeStale, nil)
	}

	gen, err := s.builder.Generate(job.Chunk.Array(), job.Resolution)
	r.cached, r.load, r.build, r.flat = gen.Cached, gen.LoadTime, gen.BuildTime, gen.FlattenTime
	if err != nil {
		r.kind, r.outcome, r.err, r.buildFailed = resultFailed, OutcomeFailed, err, true
		return r
	}

	// The viewer may have moved while building.
	if s.stale(job) {
		return r.cancel(OutcomeStale, nil)
	}

	flat := gen.Flat
	next := CpuChunk{
		Resolution: uint32(job.Resolution),
		ChunkSize:  uint32(len(flat.Nodes)),
		OffsetSize: uint32(len(flat.FarValues)),
		Coords:     job.Chunk,
	}
	if len(flat.Nodes) > 0 {
		off, err := s.nodes.Allocate(next.ChunkSize)
		if err != nil {
			return r.cancel(OutcomeNoSpace, err)
		}
		next.RootNodeIndex = off
	}
	if len(flat.FarValues) > 0 {
		off, err := s.far.Allocate(next.OffsetSize)
		if err != nil {
			s.release(next)
			return r.cancel(OutcomeNoSpace, err)
		}
		next.FarValuesOffset = off
	}

	staging, copies, err := s.stage(job, flat, next)
	if err != nil {
		s.release(next)
		if errors.Is(err, transfer.ErrStagingFull) {
			return r.cancel(OutcomeNoSpace, err)
		}
		r.kind, r.outcome, r.err = resultFailed, OutcomeFailed, err
		return r
	}
	tok, err := s.dev.Commit(copies...)
	if err != nil {
		_ = s.dev.Unstage(staging)
		s.release(next)
		r.kind, r.outcome, r.err = resultFailed, OutcomeFailed, fmt.Errorf("commit %v: %w", job.Chunk, err)
		return r
	}
	r.kind, r.token, r.staging, r.chunk = resultCommitted, tok, staging, next
	return r
}

// stage copies far values, nodes and the chunk table entry into one staging
// block and returns the copy batch, chunk table entry last.
func (s *Streamer) stage(job Job, flat svo.Flat, next CpuChunk) (uint32, []transfer.Copy, error) {
	words := make([]uint32, 0, len(flat.FarValues)+len(flat.Nodes)+ChunkWords)
	words = append(words, flat.FarValues...)
	words = append(words, flat.Nodes...)
	entry := next.Entry().Words()
	words = append(words, entry[:]...)

	base, err := s.dev.Stage(words)
	if err != nil {
		return 0, nil, err
	}
	var copies []transfer.Copy
	src := base
	if n := uint32(len(flat.FarValues)); n > 0 {
		copies = append(copies, transfer.Copy{Src: src, Dst: transfer.FarValues, DstOffset: next.FarValuesOffset, Len: n})
		src += n
	}
	if n := uint32(len(flat.Nodes)); n > 0 {
		copies = append(copies, transfer.Copy{Src: src, Dst: transfer.Nodes, DstOffset: next.RootNodeIndex, Len: n})
		src += n
	}
	copies = append(copies, transfer.Copy{
		Src:       src,
		Dst:       transfer.ChunkTable,
		DstOffset: uint32(job.SlotIndex * ChunkWords),
		Len:       ChunkWords,
	})
	return base, copies, nil
}

func (s *Streamer) release(c CpuChunk) {
	if c.RootNodeIndex != 0 {
		if err := s.nodes.Free(c.RootNodeIndex); err != nil {
			s.logger.Printf("stream: %v", err)
		}
	}
	if c.FarValuesOffset != 0 {
		if err := s.far.Free(c.FarValuesOffset); err != nil {
			s.logger.Printf("stream: %v", err)
		}
	}
}

func (r result) cancel(o Outcome, err error) result {
	r.kind, r.outcome, r.err = resultCancelled, o, err
	return r
}

// Applied describes a slot swapped in by Reconcile.
type Applied struct {
	Slot  lod.Coord
	Index int
	Chunk CpuChunk
}

// Report summarises one Reconcile call.
type Report struct {
	Applied   []Applied
	Cancelled int
	Pending   int
	Errors    []error
}

// Reconcile drains worker results and applies every committed transfer that
// has completed: the slot's metadata is swapped, the old regions and the
// staging block are released. Build failures come back in Report.Errors.
func (s *Streamer) Reconcile() Report {
	var rep Report
	var events []JobEvent

	s.mu.Lock()
drain:
	for {
		select {
		case r := <-s.results:
			switch r.kind {
			case resultCommitted:
				s.inflight = append(s.inflight, r)
				continue
			case resultFailed:
				s.counters.failed.Add(1)
				rep.Errors = append(rep.Errors, fmt.Errorf("chunk %v res %d: %w", r.job.Chunk, r.job.Resolution, r.err))
				if r.buildFailed {
					s.failed[r.job.SlotIndex] = failure{set: true, chunk: r.job.Chunk, resolution: r.job.Resolution}
				}
			case resultCancelled:
				rep.Cancelled++
				if r.outcome == OutcomeNoSpace {
					s.counters.noSpace.Add(1)
				} else {
					s.counters.stale.Add(1)
				}
			}
			s.chunks[r.job.SlotIndex].Loading = false
			events = append(events, r.event())
		default:
			break drain
		}
	}

	keep := s.inflight[:0]
	for _, r := range s.inflight {
		if !s.dev.Poll(r.token) {
			keep = append(keep, r)
			continue
		}
		old := s.chunks[r.job.SlotIndex]
		s.release(old)
		s.chunks[r.job.SlotIndex] = r.chunk
		s.failed[r.job.SlotIndex] = failure{}
		if err := s.dev.Unstage(r.staging); err != nil {
			s.logger.Printf("stream: unstage %d: %v", r.staging, err)
		}
		s.counters.applied.Add(1)
		r.outcome = OutcomeApplied
		rep.Applied = append(rep.Applied, Applied{Slot: r.job.Slot, Index: r.job.SlotIndex, Chunk: r.chunk})
		events = append(events, r.event())
	}
	for i := len(keep); i < len(s.inflight); i++ {
		s.inflight[i] = result{}
	}
	s.inflight = keep
	rep.Pending = len(keep)
	s.mu.Unlock()

	for _, ev := range events {
		for _, sink := range s.sinks {
			if err := sink.WriteJob(ev); err != nil {
				s.logger.Printf("stream: event sink: %v", err)
			}
		}
	}
	return rep
}

func (r result) event() JobEvent {
	ev := JobEvent{
		Time:        time.Now().UTC(),
		Slot:        r.job.Slot.Array(),
		Chunk:       r.job.Chunk.Array(),
		Resolution:  r.job.Resolution,
		Outcome:     r.outcome.String(),
		Cached:      r.cached,
		QueueMicros: r.started.Sub(r.job.Enqueued).Microseconds(),
		LoadMicros:  r.load.Microseconds(),
		BuildMicros: r.build.Microseconds(),
		FlatMicros:  r.flat.Microseconds(),
		TotalMicros: r.all.Microseconds(),
	}
	if r.err != nil {
		ev.Error = r.err.Error()
	}
	if r.outcome == OutcomeApplied {
		ev.Nodes = r.chunk.ChunkSize
		ev.FarValues = r.chunk.OffsetSize
		ev.NodeOffset = r.chunk.RootNodeIndex
		ev.FarOffset = r.chunk.FarValuesOffset
	}
	return ev
}

// Frame is one consumer step: publish the view, apply finished work, then
// queue whatever the new view needs.
func (s *Streamer) Frame(v lod.View) (Report, int) {
	s.Observe(v)
	rep := s.Reconcile()
	return rep, s.Scan()
}

// Settle reconciles every interval until no slot is loading.
func (s *Streamer) Settle(ctx context.Context, interval time.Duration) (Report, error) {
	var total Report
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		rep := s.Reconcile()
		total.Applied = append(total.Applied, rep.Applied...)
		total.Cancelled += rep.Cancelled
		total.Errors = append(total.Errors, rep.Errors...)
		total.Pending = rep.Pending
		if s.Loading() == 0 {
			return total, nil
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-t.C:
		}
	}
}

// Chunk returns the metadata of one slot.
func (s *Streamer) Chunk(slot lod.Coord) CpuChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[s.grid.Index(slot)]
}

// Chunks copies the metadata of every slot, indexed by Grid.Index.
func (s *Streamer) Chunks() []CpuChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CpuChunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s *Streamer) Loading() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		if c.Loading {
			n++
		}
	}
	return n
}

type Stats struct {
	Enqueued  int64
	Applied   int64
	Stale     int64
	NoSpace   int64
	Failed    int64
	Nodes     region.Stats
	FarValues region.Stats
}

func (st Stats) String() string {
	return fmt.Sprintf("jobs enqueued=%d applied=%d stale=%d no_space=%d failed=%d | %s | %s",
		st.Enqueued, st.Applied, st.Stale, st.NoSpace, st.Failed, st.Nodes, st.FarValues)
}

func (s *Streamer) Stats() Stats {
	return Stats{
		Enqueued:  s.counters.enqueued.Load(),
		Applied:   s.counters.applied.Load(),
		Stale:     s.counters.stale.Load(),
		NoSpace:   s.counters.noSpace.Load(),
		Failed:    s.counters.failed.Load(),
		Nodes:     s.nodes.Stats(),
		FarValues: s.far.Stats(),
	}
}

// Close stops accepting jobs and waits for the worker to drain the queue.
// Results still buffered can be applied with a final Reconcile.
func (s *Streamer) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.jobs)
		s.mu.Unlock()
		s.wg.Wait()
	})
	return nil
}
