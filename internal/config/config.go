package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"voxelstream.ai/internal/lod"
	"voxelstream.ai/internal/mathx"
	"voxelstream.ai/internal/terrain"
)

type Config struct {
	Scene    SceneConfig    `yaml:"scene"`
	Grid     GridConfig     `yaml:"grid"`
	LOD      LODConfig      `yaml:"lod"`
	Regions  RegionConfig   `yaml:"regions"`
	Camera   CameraConfig   `yaml:"camera"`
	Stream   StreamConfig   `yaml:"stream"`
	Data     DataConfig     `yaml:"data"`
	Observer ObserverConfig `yaml:"observer"`
}

type SceneConfig struct {
	// Dir is the scene directory; chunks go to "<dir>_<grid size>".
	Dir     string         `yaml:"dir"`
	Terrain terrain.Params `yaml:"terrain"`
}

type GridConfig struct {
	Size   int `yaml:"size"`
	Height int `yaml:"height"`
}

type LODConfig struct {
	ChunkResolution int     `yaml:"chunk_resolution"`
	MinResolution   int     `yaml:"min_resolution"`
	MaxResolution   int     `yaml:"max_resolution"`
	VoxelScale      float32 `yaml:"voxel_scale"`
	DistanceDivisor float32 `yaml:"distance_divisor"`
}

// RegionConfig sizes the destination and staging regions, in 32-bit words.
type RegionConfig struct {
	NodeWords    uint32 `yaml:"node_words"`
	FarWords     uint32 `yaml:"far_words"`
	StagingWords uint32 `yaml:"staging_words"`
}

type CameraConfig struct {
	Position  [3]float32 `yaml:"position"`
	Keyframes string     `yaml:"keyframes"`
	Speed     float32    `yaml:"speed"` // world units per second when no keyframes
}

type StreamConfig struct {
	FrameHz int `yaml:"frame_hz"`
	ScanHz  int `yaml:"scan_hz"`
	// PregenWorkers is the pool size for chunk pre-generation.
	PregenWorkers int `yaml:"pregen_workers"`
}

type DataConfig struct {
	IndexDB   string `yaml:"index_db"`
	EventsDir string `yaml:"events_dir"`
}

type ObserverConfig struct {
	Addr        string `yaml:"addr"`
	AllowRemote bool   `yaml:"allow_remote"`
}

func Defaults() Config {
	return Config{
		Scene: SceneConfig{Dir: "./data/scenes/terrain", Terrain: terrain.DefaultParams()},
		Grid:  GridConfig{Size: 7, Height: 2},
		LOD: LODConfig{
			ChunkResolution: 128,
			MinResolution:   8,
			MaxResolution:   128,
			VoxelScale:      1,
			DistanceDivisor: 128,
		},
		Regions: RegionConfig{
			NodeWords:    1 << 24,
			FarWords:     1 << 20,
			StagingWords: 1 << 22,
		},
		Camera:   CameraConfig{Position: [3]float32{64, 64, 160}, Speed: 32},
		Stream:   StreamConfig{FrameHz: 60, ScanHz: 10, PregenWorkers: 4},
		Data:     DataConfig{IndexDB: "./data/index/chunks.sqlite", EventsDir: "./data/events"},
		Observer: ObserverConfig{Addr: ":8090"},
	}
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("streamer.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("streamer.yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if c.LOD.MaxResolution <= 0 || c.LOD.MaxResolution > c.LOD.ChunkResolution {
		c.LOD.MaxResolution = c.LOD.ChunkResolution
	}
	if c.LOD.MinResolution <= 0 {
		c.LOD.MinResolution = 8
	}
	if c.Grid.Height <= 0 {
		c.Grid.Height = 1
	}
	if c.Stream.FrameHz <= 0 {
		c.Stream.FrameHz = 60
	}
	if c.Stream.ScanHz <= 0 {
		c.Stream.ScanHz = c.Stream.FrameHz
	}
	if c.Stream.PregenWorkers <= 0 {
		c.Stream.PregenWorkers = 1
	}
	c.Scene.Dir = strings.TrimRight(c.Scene.Dir, "/")
}

func (c Config) Validate() error {
	var errs []error
	if !mathx.IsPow2(c.LOD.ChunkResolution) || c.LOD.ChunkResolution < 2 {
		errs = append(errs, fmt.Errorf("lod.chunk_resolution must be a power of two >= 2, got %d", c.LOD.ChunkResolution))
	}
	if !mathx.IsPow2(c.LOD.MinResolution) {
		errs = append(errs, fmt.Errorf("lod.min_resolution must be a power of two, got %d", c.LOD.MinResolution))
	}
	if c.LOD.MinResolution > c.LOD.MaxResolution {
		errs = append(errs, fmt.Errorf("lod.min_resolution %d above max_resolution %d", c.LOD.MinResolution, c.LOD.MaxResolution))
	}
	if c.LOD.VoxelScale <= 0 {
		errs = append(errs, errors.New("lod.voxel_scale must be positive"))
	}
	if c.LOD.DistanceDivisor <= 0 {
		errs = append(errs, errors.New("lod.distance_divisor must be positive"))
	}
	if c.Grid.Size < 1 {
		errs = append(errs, fmt.Errorf("grid.size must be >= 1, got %d", c.Grid.Size))
	}
	if c.Regions.NodeWords < 2 || c.Regions.FarWords < 2 || c.Regions.StagingWords < 2 {
		errs = append(errs, errors.New("regions: node_words, far_words and staging_words must be >= 2"))
	}
	if strings.TrimSpace(c.Scene.Dir) == "" {
		errs = append(errs, errors.New("scene.dir is required"))
	}
	return errors.Join(errs...)
}

func (c Config) Extent() float32 { return float32(c.LOD.ChunkResolution) * c.LOD.VoxelScale }

func (c Config) LODGrid() lod.Grid { return lod.Grid{Size: c.Grid.Size, Height: c.Grid.Height} }

func (c Config) Policy() lod.Policy {
	return lod.Policy{
		MinResolution:   c.LOD.MinResolution,
		MaxResolution:   c.LOD.MaxResolution,
		ChunkResolution: c.LOD.ChunkResolution,
		VoxelScale:      c.LOD.VoxelScale,
		DistanceDivisor: c.LOD.DistanceDivisor,
	}
}

// ChunkTableWords is the size of the chunk table for the grid.
func (c Config) ChunkTableWords() uint32 {
	return uint32(c.Grid.Size * c.Grid.Size * c.Grid.Height * 2)
}
