package transfer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"voxelstream.ai/internal/region"
)

// MemoryConfig sizes a MemoryDevice, in words.
type MemoryConfig struct {
	StagingWords    uint32
	NodeWords       uint32
	FarWords        uint32
	ChunkTableWords uint32
	QueueDepth      int
}

// MemoryDevice keeps every region in host memory and runs batches on a
// single transfer goroutine.
type MemoryDevice struct {
	logger *log.Logger

	staging    []uint32
	stagingMem *region.Allocator

	mu   sync.RWMutex // guards destination regions
	dest [3][]uint32

	queue chan batch
	wg    sync.WaitGroup
	once  sync.Once

	closeMu sync.RWMutex
	closed  bool

	next    atomic.Uint64
	applied atomic.Uint64

	notifyMu sync.Mutex
	notify   chan struct{}
}

type batch struct {
	token  Token
	copies []Copy
}

func NewMemoryDevice(cfg MemoryConfig, logger *log.Logger) *MemoryDevice {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	d := &MemoryDevice{
		logger:     logger,
		staging:    make([]uint32, cfg.StagingWords),
		stagingMem: region.New("staging", cfg.StagingWords, logger),
		queue:      make(chan batch, cfg.QueueDepth),
		notify:     make(chan struct{}),
	}
	d.dest[Nodes] = make([]uint32, cfg.NodeWords)
	d.dest[FarValues] = make([]uint32, cfg.FarWords)
	d.dest[ChunkTable] = make([]uint32, cfg.ChunkTableWords)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d
}

func (d *MemoryDevice) Stage(words []uint32) (uint32, error) {
	off, err := d.stagingMem.Allocate(uint32(len(words)))
	if err != nil {
		return 0, fmt.Errorf("stage %d words: %w: %w", len(words), ErrStagingFull, err)
	}
	copy(d.staging[off:], words)
	return off, nil
}

func (d *MemoryDevice) Unstage(offset uint32) error {
	return d.stagingMem.Free(offset)
}

func (d *MemoryDevice) StagingStats() region.Stats { return d.stagingMem.Stats() }

func (d *MemoryDevice) Commit(copies ...Copy) (Token, error) {
	for _, c := range copies {
		if int(c.Dst) >= len(d.dest) {
			return 0, fmt.Errorf("copy to %v: %w", c.Dst, ErrOutOfRange)
		}
		if uint64(c.Src)+uint64(c.Len) > uint64(len(d.staging)) ||
			uint64(c.DstOffset)+uint64(c.Len) > uint64(len(d.dest[c.Dst])) {
			return 0, fmt.Errorf("copy %d words %d -> %v@%d: %w", c.Len, c.Src, c.Dst, c.DstOffset, ErrOutOfRange)
		}
	}

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return 0, ErrClosed
	}
	t := Token(d.next.Add(1))
	d.queue <- batch{token: t, copies: append([]Copy(nil), copies...)}
	return t, nil
}

func (d *MemoryDevice) Poll(t Token) bool { return uint64(t) <= d.applied.Load() }

func (d *MemoryDevice) Await(ctx context.Context, t Token) error {
	for {
		d.notifyMu.Lock()
		ch := d.notify
		d.notifyMu.Unlock()
		if d.Poll(t) {
			return nil
		}
		if uint64(t) > d.next.Load() {
			return fmt.Errorf("await token %d: never committed", t)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (d *MemoryDevice) loop() {
	for b := range d.queue {
		d.mu.Lock()
		for _, c := range b.copies {
			copy(d.dest[c.Dst][c.DstOffset:c.DstOffset+c.Len], d.staging[c.Src:c.Src+c.Len])
		}
		d.mu.Unlock()

		d.applied.Store(uint64(b.token))
		d.notifyMu.Lock()
		close(d.notify)
		d.notify = make(chan struct{})
		d.notifyMu.Unlock()
	}
}

// Read copies n words out of a destination region.
func (d *MemoryDevice) Read(t Target, off, n uint32) []uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]uint32, n)
	copy(out, d.dest[t][off:off+n])
	return out
}

// View runs fn with read access to all destination regions.
func (d *MemoryDevice) View(fn func(nodes, far, table []uint32)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.dest[Nodes], d.dest[FarValues], d.dest[ChunkTable])
}

// Close drains queued batches and stops the transfer goroutine.
func (d *MemoryDevice) Close() error {
	d.once.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		close(d.queue)
		d.closeMu.Unlock()
		d.wg.Wait()
	})
	return nil
}
