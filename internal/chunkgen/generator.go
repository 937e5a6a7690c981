// Package chunkgen produces flattened chunks, from the chunk store when
// cached and from the voxel source otherwise.
package chunkgen

import (
	"fmt"
	"log"
	"time"

	"voxelstream.ai/internal/persistence/chunkstore"
	"voxelstream.ai/internal/svo"
	"voxelstream.ai/internal/terrain"
)

// Source supplies an occupancy oracle for one chunk.
type Source interface {
	Oracle(c terrain.ChunkSpec) svo.Oracle
}

// Catalog records persisted chunks. Implementations must not block.
type Catalog interface {
	RecordChunk(rec ChunkRecord)
}

type ChunkRecord struct {
	Key       chunkstore.Key
	Path      string
	NodeCount uint32
	FarCount  int
	BuildTime time.Duration
}

type Config struct {
	// Cap is the full-detail chunk resolution.
	Cap    int
	Extent float64
}

type Generator struct {
	cfg     Config
	source  Source
	store   *chunkstore.Store
	catalog Catalog
	logger  *log.Logger
}

// New builds a generator. store and catalog may be nil.
func New(cfg Config, source Source, store *chunkstore.Store, catalog Catalog, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{cfg: cfg, source: source, store: store, catalog: catalog, logger: logger}
}

// Result is one generated chunk. An empty Flat means the chunk holds no
// voxels.
type Result struct {
	Key         chunkstore.Key
	Flat        svo.Flat
	Cached      bool
	LoadTime    time.Duration
	BuildTime   time.Duration
	FlattenTime time.Duration
}

func (g *Generator) Key(coords [3]int, resolution int) chunkstore.Key {
	return chunkstore.Key{Cap: uint32(g.cfg.Cap), Resolution: uint32(resolution), Coords: coords}
}

// Generate returns the chunk at coords and resolution. Far table
// exhaustion is returned as an error wrapping svo.ErrFarValuesExhausted;
// persistence failures are logged and ignored.
func (g *Generator) Generate(coords [3]int, resolution int) (Result, error) {
	res := Result{Key: g.Key(coords, resolution)}
	if g.store != nil {
		start := time.Now()
		ok, err := g.store.Load(res.Key, &res.Flat)
		res.LoadTime = time.Since(start)
		if err != nil {
			g.logger.Printf("chunkgen: load %s: %v (rebuilding)", res.Key, err)
			res.Flat = svo.Flat{}
		} else if ok {
			res.Cached = true
			return res, nil
		}
	}

	start := time.Now()
	oracle := g.source.Oracle(terrain.ChunkSpec{Coords: coords, Resolution: resolution, Extent: g.cfg.Extent})
	root, count := svo.Build(oracle, svo.Cube([3]int{}, resolution), resolution)
	res.BuildTime = time.Since(start)

	if root != nil {
		start = time.Now()
		flat, err := svo.Flatten(root, count)
		res.FlattenTime = time.Since(start)
		if err != nil {
			return res, fmt.Errorf("build %s: %w", res.Key, err)
		}
		res.Flat = flat
	}

	if g.store != nil {
		if err := g.store.Save(res.Key, res.Flat); err != nil {
			g.logger.Printf("chunkgen: save %s: %v", res.Key, err)
		} else if g.catalog != nil {
			g.catalog.RecordChunk(ChunkRecord{
				Key:       res.Key,
				Path:      g.store.Path(res.Key),
				NodeCount: res.Flat.NodeCount,
				FarCount:  len(res.Flat.FarValues),
				BuildTime: res.BuildTime + res.FlattenTime,
			})
		}
	}
	return res, nil
}
