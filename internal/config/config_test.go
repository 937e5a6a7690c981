package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.LOD.MaxResolution != cfg.LOD.ChunkResolution {
		t.Fatalf("max resolution %d, chunk %d", cfg.LOD.MaxResolution, cfg.LOD.ChunkResolution)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamer.yaml")
	body := `
scene:
  dir: ./scenes/hills/
  terrain:
    seed: 99
grid:
  size: 5
  height: 0
lod:
  chunk_resolution: 64
  max_resolution: 1024
  distance_divisor: 32
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scene.Dir != "./scenes/hills" {
		t.Fatalf("scene dir %q", cfg.Scene.Dir)
	}
	if cfg.Scene.Terrain.Seed != 99 || cfg.Scene.Terrain.Octaves == 0 {
		t.Fatalf("terrain %+v", cfg.Scene.Terrain)
	}
	if cfg.Grid.Height != 1 {
		t.Fatalf("grid height %d", cfg.Grid.Height)
	}
	if cfg.LOD.MaxResolution != 64 {
		t.Fatalf("max resolution not clamped: %d", cfg.LOD.MaxResolution)
	}
	if got := cfg.Extent(); got != 64 {
		t.Fatalf("extent %v", got)
	}
	if got := cfg.ChunkTableWords(); got != 5*5*1*2 {
		t.Fatalf("chunk table words %d", got)
	}
	if p := cfg.Policy(); p.DistanceDivisor != 32 || p.MinResolution != 8 {
		t.Fatalf("policy %+v", p)
	}
}

func TestLoadRejectsBadResolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamer.yaml")
	if err := os.WriteFile(path, []byte("lod:\n  chunk_resolution: 100\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "power of two") {
		t.Fatalf("expected power of two error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}
