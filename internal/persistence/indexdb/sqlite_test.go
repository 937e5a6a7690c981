package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"voxelstream.ai/internal/chunkgen"
	"voxelstream.ai/internal/persistence/chunkstore"
	"voxelstream.ai/internal/stream"
)

func TestSQLiteIndex_RecordsChunksAndJobs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "chunks.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	key := chunkstore.Key{Cap: 128, Resolution: 32, Coords: [3]int{-2, 5, 1}}
	idx.RecordChunk(chunkgen.ChunkRecord{Key: key, Path: "/tmp/x-2,y5,z1.svo", NodeCount: 321, FarCount: 2, BuildTime: 1500 * time.Microsecond})
	// Same key again replaces the row.
	idx.RecordChunk(chunkgen.ChunkRecord{Key: key, Path: "/tmp/x-2,y5,z1.svo", NodeCount: 400, BuildTime: time.Millisecond})
	_ = idx.WriteJob(stream.JobEvent{Time: time.Now().UTC(), Chunk: [3]int{-2, 5, 1}, Resolution: 32, Outcome: "applied", Nodes: 400})
	_ = idx.WriteJob(stream.JobEvent{Time: time.Now().UTC(), Chunk: [3]int{0, 0, 0}, Resolution: 8, Outcome: "stale"})
	if err := idx.SetMeta("grid_size", "7"); err != nil {
		t.Fatalf("meta: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var n, nodes, far int
	if err := db.QueryRow(`SELECT COUNT(*), MAX(nodes), MAX(far_values) FROM chunks WHERE cx=-2 AND cy=5 AND cz=1`).Scan(&n, &nodes, &far); err != nil {
		t.Fatalf("query chunks: %v", err)
	}
	if n != 1 || nodes != 400 || far != 0 {
		t.Fatalf("chunks row: n=%d nodes=%d far=%d", n, nodes, far)
	}

	var applied, stale int
	if err := db.QueryRow(`SELECT
		SUM(CASE WHEN outcome='applied' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome='stale' THEN 1 ELSE 0 END) FROM jobs`).Scan(&applied, &stale); err != nil {
		t.Fatalf("query jobs: %v", err)
	}
	if applied != 1 || stale != 1 {
		t.Fatalf("jobs: applied=%d stale=%d", applied, stale)
	}

	var v string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='grid_size'`).Scan(&v); err != nil || v != "7" {
		t.Fatalf("meta: %q %v", v, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqJob}

	s.RecordChunk(chunkgen.ChunkRecord{})
	_ = s.WriteJob(stream.JobEvent{})

	st := s.Stats()
	if st.DropChunkTotal != 1 || st.DropJobTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilAndClosedAreNoops(t *testing.T) {
	var s *SQLiteIndex
	s.RecordChunk(chunkgen.ChunkRecord{})
	if err := s.WriteJob(stream.JobEvent{}); err != nil {
		t.Fatalf("nil WriteJob: %v", err)
	}
}
