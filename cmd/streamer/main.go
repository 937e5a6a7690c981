package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"voxelstream.ai/internal/campath"
	"voxelstream.ai/internal/chunkgen"
	"voxelstream.ai/internal/config"
	"voxelstream.ai/internal/lod"
	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/persistence/chunkstore"
	"voxelstream.ai/internal/persistence/indexdb"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/region"
	"voxelstream.ai/internal/stream"
	"voxelstream.ai/internal/terrain"
	"voxelstream.ai/internal/transfer"
	"voxelstream.ai/internal/transport/observer"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/streamer.yaml", "path to streamer.yaml")
		addr       = flag.String("addr", "", "observer listen address (overrides observer.addr; empty string in config disables)")
		duration   = flag.Duration("duration", 0, "stop after this long (0 = until signal)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite chunk/job index")
		noEvents   = flag.Bool("no_events", false, "disable zstd job event logs")
		statsEvery = flag.Duration("stats_every", 5*time.Second, "stats log interval (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[streamer] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.Observer.Addr = strings.TrimSpace(*addr)
	}

	grid := cfg.LODGrid()
	policy := cfg.Policy()

	var sinks []stream.EventSink
	var catalog chunkgen.Catalog
	if !*disableDB && strings.TrimSpace(cfg.Data.IndexDB) != "" {
		idx, err := indexdb.OpenSQLite(cfg.Data.IndexDB)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer func() {
			st := idx.Stats()
			if st.DropChunkTotal > 0 || st.DropJobTotal > 0 {
				logger.Printf("index dropped chunks=%d jobs=%d", st.DropChunkTotal, st.DropJobTotal)
			}
			_ = idx.Close()
		}()
		for k, v := range map[string]string{
			"scene":            cfg.Scene.Dir,
			"grid_size":        strconv.Itoa(grid.Size),
			"grid_height":      strconv.Itoa(grid.Height),
			"chunk_resolution": strconv.Itoa(cfg.LOD.ChunkResolution),
			"terrain_seed":     strconv.FormatInt(cfg.Scene.Terrain.Seed, 10),
		} {
			if err := idx.SetMeta(k, v); err != nil {
				logger.Printf("index meta %s: %v", k, err)
			}
		}
		catalog = idx
		sinks = append(sinks, idx)
	}
	if !*noEvents && strings.TrimSpace(cfg.Data.EventsDir) != "" {
		jl := persistlog.NewJobLogger(cfg.Data.EventsDir)
		defer jl.Close()
		sinks = append(sinks, jl)
	}

	store := chunkstore.New(cfg.Scene.Dir, grid.Size, grid.ThreeD())
	gen := chunkgen.New(chunkgen.Config{Cap: cfg.LOD.ChunkResolution, Extent: float64(cfg.Extent())},
		terrain.New(cfg.Scene.Terrain), store, catalog, logger)

	dev := transfer.NewMemoryDevice(transfer.MemoryConfig{
		StagingWords:    cfg.Regions.StagingWords,
		NodeWords:       cfg.Regions.NodeWords,
		FarWords:        cfg.Regions.FarWords,
		ChunkTableWords: cfg.ChunkTableWords(),
	}, logger)
	defer dev.Close()

	s, err := stream.New(stream.Options{
		Planner:   lod.NewPlanner(policy, grid),
		Builder:   gen,
		Nodes:     region.New("nodes", cfg.Regions.NodeWords, logger),
		FarValues: region.New("far", cfg.Regions.FarWords, logger),
		Device:    dev,
		Sinks:     sinks,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("streamer: %v", err)
	}
	defer s.Close()

	drv := newDriver(lod.NewCamera(grid, cfg.Extent(), mgl32.Vec3(cfg.Camera.Position)), cfg.Camera.Speed)
	if p := strings.TrimSpace(cfg.Camera.Keyframes); p != "" {
		path, err := campath.Load(p)
		if err != nil {
			logger.Fatalf("camera path: %v", err)
		}
		drv.path = &path
		logger.Printf("camera path %s: %d keyframes over %.1fs", p, len(path.Keyframes), path.Duration())
	}

	var obs *observer.Server
	if strings.TrimSpace(cfg.Observer.Addr) != "" {
		obs, err = observer.NewServer(func() observerproto.BootstrapResponse {
			return observerproto.BootstrapResponse{
				Scene: store.Root(),
				Grid: observerproto.GridParams{
					Size:            grid.Size,
					Height:          grid.Height,
					ThreeD:          grid.ThreeD(),
					ChunkResolution: cfg.LOD.ChunkResolution,
					MinResolution:   cfg.LOD.MinResolution,
					MaxResolution:   cfg.LOD.MaxResolution,
					VoxelScale:      cfg.LOD.VoxelScale,
				},
				Viewer: s.View().Chunk.Array(),
				Loaded: loaded(s.Chunks()),
			}
		}, cfg.Observer.AllowRemote, logger)
		if err != nil {
			logger.Fatalf("observer: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	if obs != nil {
		srv := &http.Server{
			Addr:              cfg.Observer.Addr,
			Handler:           obs.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Printf("observer listening on %s", cfg.Observer.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		return run(ctx, loopConfig{
			frameHz:    cfg.Stream.FrameHz,
			scanHz:     cfg.Stream.ScanHz,
			statsEvery: *statsEvery,
		}, s, drv, dev, obs, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.Printf("stopped: %v", err)
	}
	_ = s.Close()
	s.Reconcile()
	logger.Printf("final %s", s.Stats())
}

func loaded(chunks []stream.CpuChunk) int {
	n := 0
	for _, c := range chunks {
		if c.RootNodeIndex != 0 {
			n++
		}
	}
	return n
}
