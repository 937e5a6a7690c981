package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/campath"
	"voxelstream.ai/internal/chunkgen"
	"voxelstream.ai/internal/config"
	"voxelstream.ai/internal/lod"
	"voxelstream.ai/internal/persistence/chunkstore"
	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/terrain"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/streamer.yaml", "path to streamer.yaml")
		pathFile   = flag.String("path", "", "camera keyframe path (default: camera.keyframes from config)")
		position   = flag.String("position", "", "single camera position x,y,z (overrides any path)")
		step       = flag.Float64("step", 0.25, "path sampling step in seconds")
		workers    = flag.Int("workers", 0, "worker pool size (default: stream.pregen_workers)")
		disableDB  = flag.Bool("disable_db", false, "do not record chunks in the sqlite index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[chunkgen] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *workers <= 0 {
		*workers = cfg.Stream.PregenWorkers
	}

	grid := cfg.LODGrid()
	planner := lod.NewPlanner(cfg.Policy(), grid)

	var positions []mgl32.Vec3
	switch {
	case strings.TrimSpace(*position) != "":
		p, err := parseVec3(*position)
		if err != nil {
			logger.Fatalf("-position: %v", err)
		}
		positions = []mgl32.Vec3{p}
	default:
		pf := strings.TrimSpace(*pathFile)
		if pf == "" {
			pf = strings.TrimSpace(cfg.Camera.Keyframes)
		}
		if pf == "" {
			positions = []mgl32.Vec3{mgl32.Vec3(cfg.Camera.Position)}
			break
		}
		path, err := campath.Load(pf)
		if err != nil {
			logger.Fatalf("camera path: %v", err)
		}
		positions = path.Positions(float32(*step))
	}

	reqs := requestsAlong(planner, cfg.Extent(), positions)
	logger.Printf("%d camera positions, %d requests", len(positions), len(reqs))

	var catalog chunkgen.Catalog
	if !*disableDB && strings.TrimSpace(cfg.Data.IndexDB) != "" {
		idx, err := indexdb.OpenSQLite(cfg.Data.IndexDB)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		catalog = idx
	}

	store := chunkstore.New(cfg.Scene.Dir, grid.Size, grid.ThreeD())
	gen := chunkgen.New(chunkgen.Config{Cap: cfg.LOD.ChunkResolution, Extent: float64(cfg.Extent())},
		terrain.New(cfg.Scene.Terrain), store, catalog, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := chunkgen.Pregenerate(ctx, gen, reqs, *workers, logger)
	logger.Printf("done: requested=%d cached=%d built=%d failed=%d elapsed=%s root=%s",
		sum.Requested, sum.Cached, sum.Built, sum.Failed, sum.Elapsed, store.Root())
	if err != nil {
		logger.Printf("error: %v", err)
		stop()
		os.Exit(1)
	}
}

// requestsAlong collects every request the planner makes from each camera
// position, in order. Duplicates are left for Pregenerate to drop.
func requestsAlong(pl *lod.Planner, extent float32, positions []mgl32.Vec3) []lod.Request {
	if len(positions) == 0 {
		return nil
	}
	cam := lod.NewCamera(pl.Grid, extent, positions[0])
	var reqs []lod.Request
	var last lod.Coord
	for i, p := range positions {
		cam.SetPosition(p)
		if i > 0 && cam.Chunk == last {
			continue
		}
		last = cam.Chunk
		reqs = append(reqs, pl.Requests(cam.View())...)
	}
	return reqs
}

func parseVec3(s string) (mgl32.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return mgl32.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v mgl32.Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return mgl32.Vec3{}, fmt.Errorf("component %d: %w", i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}
