package campath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "fov": 70,
  "keyframes": [
    {"time": 0, "position": [0, 0, 100], "direction": [1, 0, 0]},
    {"time": 10, "position": [100, 0, 100], "direction": [0, 1, 0]},
    {"time": 20, "position": [100, 200, 50], "direction": [0, 1, 0]}
  ]
}`

func TestParseAndInterpolate(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, float32(70), p.FOV)
	assert.Equal(t, float32(20), p.Duration())

	pos, dir := p.At(5)
	assert.True(t, pos.ApproxEqual(mgl32.Vec3{50, 0, 100}))
	assert.InDelta(t, 1, dir.Len(), 1e-4)
	// halfway between +x and +y
	assert.InDelta(t, dir.X(), dir.Y(), 1e-3)

	pos, _ = p.At(15)
	assert.True(t, pos.ApproxEqual(mgl32.Vec3{100, 100, 75}))

	pos, dir = p.At(-3)
	assert.True(t, pos.ApproxEqual(mgl32.Vec3{0, 0, 100}))
	assert.True(t, dir.ApproxEqual(mgl32.Vec3{1, 0, 0}))

	pos, _ = p.At(99)
	assert.True(t, pos.ApproxEqual(mgl32.Vec3{100, 200, 50}))
}

func TestPositions(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)
	pts := p.Positions(5)
	require.Len(t, pts, 5)
	assert.True(t, pts[4].ApproxEqual(mgl32.Vec3{100, 200, 50}))
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing keyframes": `{"fov": 60}`,
		"short position":    `{"keyframes":[{"time":0,"position":[1,2],"direction":[1,0,0]}]}`,
		"unknown field":     `{"keyframes":[{"time":0,"position":[1,2,3],"direction":[1,0,0],"roll":3}]}`,
		"time order":        `{"keyframes":[{"time":5,"position":[1,2,3],"direction":[1,0,0]},{"time":1,"position":[1,2,3],"direction":[1,0,0]}]}`,
		"not json":          `{`,
	}
	for name, body := range cases {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "path.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	p, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, p.Keyframes, 3)
}
