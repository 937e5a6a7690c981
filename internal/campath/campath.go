// Package campath loads camera keyframe paths and samples them over time.
package campath

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed camera_path.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("camera_path.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

type Keyframe struct {
	Time      float32    `json:"time"`
	Position  [3]float32 `json:"position"`
	Direction [3]float32 `json:"direction"`
}

// Path is an ordered list of keyframes. FOV is in degrees.
type Path struct {
	FOV       float32    `json:"fov,omitempty"`
	Keyframes []Keyframe `json:"keyframes"`
}

func Load(path string) (Path, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Path{}, err
	}
	p, err := Parse(b)
	if err != nil {
		return Path{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func Parse(b []byte) (Path, error) {
	s, err := compiled()
	if err != nil {
		return Path{}, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return Path{}, err
	}
	if err := s.Validate(doc); err != nil {
		return Path{}, err
	}
	var p Path
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&p); err != nil {
		return Path{}, err
	}
	for i := 1; i < len(p.Keyframes); i++ {
		if p.Keyframes[i].Time < p.Keyframes[i-1].Time {
			return Path{}, fmt.Errorf("keyframe %d time %.3f before previous %.3f", i, p.Keyframes[i].Time, p.Keyframes[i-1].Time)
		}
	}
	return p, nil
}

func (p Path) Duration() float32 {
	if len(p.Keyframes) == 0 {
		return 0
	}
	return p.Keyframes[len(p.Keyframes)-1].Time
}

// At interpolates the camera at time t: position linearly, direction by
// spherical interpolation. t is clamped to the path.
func (p Path) At(t float32) (pos, dir mgl32.Vec3) {
	kf := p.Keyframes
	switch {
	case len(kf) == 0:
		return mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}
	case t <= kf[0].Time:
		return kf[0].Position, normalize(kf[0].Direction)
	case t >= kf[len(kf)-1].Time:
		last := kf[len(kf)-1]
		return last.Position, normalize(last.Direction)
	}
	i := 1
	for kf[i].Time < t {
		i++
	}
	a, b := kf[i-1], kf[i]
	span := b.Time - a.Time
	if span <= 0 {
		return b.Position, normalize(b.Direction)
	}
	f := (t - a.Time) / span

	p0, p1 := mgl32.Vec3(a.Position), mgl32.Vec3(b.Position)
	pos = p0.Add(p1.Sub(p0).Mul(f))

	d0, d1 := normalize(a.Direction), normalize(b.Direction)
	q := mgl32.QuatSlerp(mgl32.QuatIdent(), mgl32.QuatBetweenVectors(d0, d1), f)
	return pos, q.Rotate(d0).Normalize()
}

// Positions samples the path every step seconds, including both ends.
func (p Path) Positions(step float32) []mgl32.Vec3 {
	if len(p.Keyframes) == 0 || step <= 0 {
		return nil
	}
	var out []mgl32.Vec3
	start, end := p.Keyframes[0].Time, p.Duration()
	for t := start; t < end; t += step {
		pos, _ := p.At(t)
		out = append(out, pos)
	}
	pos, _ := p.At(end)
	return append(out, pos)
}

func normalize(v [3]float32) mgl32.Vec3 {
	d := mgl32.Vec3(v)
	if d.Len() == 0 {
		return mgl32.Vec3{1, 0, 0}
	}
	return d.Normalize()
}
