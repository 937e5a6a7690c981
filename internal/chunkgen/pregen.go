package chunkgen

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"voxelstream.ai/internal/lod"
)

// Summary totals one pre-generation run.
type Summary struct {
	Requested int
	Cached    int
	Built     int
	Failed    int
	Elapsed   time.Duration
}

// Pregenerate runs Generate for every distinct (chunk, resolution) pair in
// reqs on a pool of workers. It returns the first generation error joined
// with ctx's error, if any.
func Pregenerate(ctx context.Context, g *Generator, reqs []lod.Request, workers int, logger *log.Logger) (Summary, error) {
	if logger == nil {
		logger = log.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	start := time.Now()

	type key struct {
		c lod.Coord
		r int
	}
	seen := make(map[key]bool, len(reqs))
	var uniq []lod.Request
	for _, r := range reqs {
		k := key{r.Chunk, r.Resolution}
		if seen[k] {
			continue
		}
		seen[k] = true
		uniq = append(uniq, r)
	}

	pool := pond.NewPool(workers)
	defer pool.StopAndWait()

	var (
		wg       sync.WaitGroup
		cached   atomic.Int64
		built    atomic.Int64
		failed   atomic.Int64
		errOnce  sync.Once
		firstErr error
	)
	for _, r := range uniq {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			res, err := g.Generate(r.Chunk.Array(), r.Resolution)
			switch {
			case err != nil:
				failed.Add(1)
				logger.Printf("chunkgen: %v", err)
				errOnce.Do(func() { firstErr = err })
			case res.Cached:
				cached.Add(1)
			default:
				built.Add(1)
			}
		})
	}
	wg.Wait()

	s := Summary{
		Requested: len(uniq),
		Cached:    int(cached.Load()),
		Built:     int(built.Load()),
		Failed:    int(failed.Load()),
		Elapsed:   time.Since(start),
	}
	return s, errors.Join(firstErr, ctx.Err())
}
