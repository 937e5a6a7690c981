// Package chunkstore persists flattened chunks, one file per
// (capacity, resolution, coordinate) key.
package chunkstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelstream.ai/internal/svo"
)

const headerSize = 12

var ErrCorrupt = errors.New("chunkstore: corrupt chunk file")

// Key identifies one persisted chunk.
type Key struct {
	Cap        uint32 // max resolution a chunk of this scene can hold
	Resolution uint32
	Coords     [3]int
}

func (k Key) String() string {
	return fmt.Sprintf("cap=%d res=%d (%d,%d,%d)", k.Cap, k.Resolution, k.Coords[0], k.Coords[1], k.Coords[2])
}

type Store struct {
	root   string
	threeD bool
}

// New returns a store rooted at "<sceneDir>_<gridSize>". threeD adds the z
// component to file names.
func New(sceneDir string, gridSize int, threeD bool) *Store {
	return &Store{root: fmt.Sprintf("%s_%d", sceneDir, gridSize), threeD: threeD}
}

func (s *Store) Root() string { return s.root }

func (s *Store) Path(k Key) string {
	return filepath.Join(s.root,
		fmt.Sprintf("max_scene_resolution_%d", k.Cap),
		fmt.Sprintf("chunk_resolution_%d", k.Resolution),
		s.fileName(k.Coords))
}

func (s *Store) fileName(c [3]int) string {
	if s.threeD {
		return fmt.Sprintf("x%d,y%d,z%d.svo", c[0], c[1], c[2])
	}
	return fmt.Sprintf("x%d,y%d.svo", c[0], c[1])
}

// Load appends the chunk stored under k to dst. A missing file reports
// (false, nil).
func (s *Store) Load(k Key, dst *svo.Flat) (bool, error) {
	f, err := os.Open(s.Path(k))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	if err := readChunk(f, dst); err != nil {
		return false, fmt.Errorf("load %s: %w", k, err)
	}
	return true, nil
}

// Save writes flat under k, replacing any previous file.
func (s *Store) Save(k Key, flat svo.Flat) error {
	path := s.Path(k)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriterSize(tmp, 64*1024)
	if err := writeChunk(bw, flat); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save %s: %w", k, err)
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile decodes a single chunk file.
func ReadFile(path string) (svo.Flat, error) {
	var flat svo.Flat
	f, err := os.Open(path)
	if err != nil {
		return flat, err
	}
	defer f.Close()
	if err := readChunk(f, &flat); err != nil {
		return svo.Flat{}, fmt.Errorf("%s: %w", path, err)
	}
	return flat, nil
}

func writeChunk(w io.Writer, flat svo.Flat) error {
	hdr := [3]uint32{flat.NodeCount, uint32(len(flat.Nodes)), uint32(len(flat.FarValues))}
	if err := binary.Write(w, binary.LittleEndian, hdr[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, flat.Nodes); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, flat.FarValues)
}

func readChunk(f *os.File, dst *svo.Flat) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	br := bufio.NewReaderSize(f, 64*1024)
	var hdr [3]uint32
	if err := binary.Read(br, binary.LittleEndian, hdr[:]); err != nil {
		return fmt.Errorf("header: %w", ErrCorrupt)
	}
	nodes, far := int64(hdr[1]), int64(hdr[2])
	if want := headerSize + 4*(nodes+far); st.Size() != want {
		return fmt.Errorf("size %d, header implies %d: %w", st.Size(), want, ErrCorrupt)
	}

	nodeBase, farBase := len(dst.Nodes), len(dst.FarValues)
	dst.Nodes = append(dst.Nodes, make([]uint32, nodes)...)
	dst.FarValues = append(dst.FarValues, make([]uint32, far)...)
	if err := binary.Read(br, binary.LittleEndian, dst.Nodes[nodeBase:]); err != nil {
		dst.Nodes, dst.FarValues = dst.Nodes[:nodeBase], dst.FarValues[:farBase]
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, dst.FarValues[farBase:]); err != nil {
		dst.Nodes, dst.FarValues = dst.Nodes[:nodeBase], dst.FarValues[:farBase]
		return err
	}
	dst.NodeCount += hdr[0]
	return nil
}

// Walk calls fn for every chunk file under the store root.
func (s *Store) Walk(fn func(k Key, path string) error) error {
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".svo") {
			return nil
		}
		k, ok := parsePath(s.root, path)
		if !ok {
			return nil
		}
		return fn(k, path)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func parsePath(root, path string) (Key, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Key{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return Key{}, false
	}
	var k Key
	c, ok := parseUintSuffix(parts[0], "max_scene_resolution_")
	if !ok {
		return Key{}, false
	}
	k.Cap = c
	r, ok := parseUintSuffix(parts[1], "chunk_resolution_")
	if !ok {
		return Key{}, false
	}
	k.Resolution = r
	coords, ok := ParseName(parts[2])
	if !ok {
		return Key{}, false
	}
	k.Coords = coords
	return k, true
}

func parseUintSuffix(s, prefix string) (uint32, bool) {
	if !strings.HasPrefix(s, prefix) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[len(prefix):], 10, 32)
	return uint32(v), err == nil
}

// ParseName parses "x<cx>,y<cy>[,z<cz>].svo".
func ParseName(name string) ([3]int, bool) {
	var c [3]int
	name, ok := strings.CutSuffix(name, ".svo")
	if !ok {
		return c, false
	}
	parts := strings.Split(name, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return c, false
	}
	for i, p := range parts {
		if len(p) < 2 || p[0] != "xyz"[i] {
			return c, false
		}
		v, err := strconv.Atoi(p[1:])
		if err != nil {
			return c, false
		}
		c[i] = v
	}
	return c, true
}
