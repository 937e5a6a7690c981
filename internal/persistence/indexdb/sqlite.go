package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelstream.ai/internal/chunkgen"
	"voxelstream.ai/internal/stream"
)

// SQLiteIndex is a secondary index over persisted chunks and job outcomes.
// Writes go through a buffered channel to one writer goroutine and are
// dropped when it falls behind; chunk files and JSONL logs stay the source of
// truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropChunk atomic.Uint64
	dropJob   atomic.Uint64
}

type reqKind int

const (
	reqChunk reqKind = iota + 1
	reqJob
)

type req struct {
	kind reqKind

	chunk chunkgen.ChunkRecord
	job   stream.JobEvent
	at    time.Time
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			cap INTEGER NOT NULL,
			resolution INTEGER NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			path TEXT NOT NULL,
			nodes INTEGER NOT NULL,
			far_values INTEGER NOT NULL,
			build_us INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY(cap, resolution, cx, cy, cz)
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			resolution INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			cached INTEGER NOT NULL,
			queue_us INTEGER NOT NULL,
			build_us INTEGER NOT NULL,
			total_us INTEGER NOT NULL,
			nodes INTEGER NOT NULL,
			far_values INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS jobs_outcome ON jobs(outcome);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordChunk indexes a persisted chunk.
func (s *SQLiteIndex) RecordChunk(rec chunkgen.ChunkRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqChunk, chunk: rec, at: time.Now().UTC()}:
	default:
		s.dropChunk.Add(1)
	}
}

// WriteJob indexes one reconciled job.
func (s *SQLiteIndex) WriteJob(ev stream.JobEvent) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqJob, job: ev}:
	default:
		s.dropJob.Add(1)
	}
	return nil
}

// SetMeta writes a key synchronously.
func (s *SQLiteIndex) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropChunkTotal uint64
	DropJobTotal   uint64
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropChunkTotal: s.dropChunk.Load(),
		DropJobTotal:   s.dropJob.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertChunk, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunks(cap,resolution,cx,cy,cz,path,nodes,far_values,build_us,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertJob, _ := s.db.Prepare(`INSERT INTO jobs(time,cx,cy,cz,resolution,outcome,cached,queue_us,build_us,total_us,nodes,far_values,error) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertChunk != nil {
			_ = insertChunk.Close()
		}
		if insertJob != nil {
			_ = insertJob.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqChunk:
			c := r.chunk
			if insertChunk == nil {
				continue
			}
			if _, err := tx.Stmt(insertChunk).Exec(
				int64(c.Key.Cap),
				int64(c.Key.Resolution),
				c.Key.Coords[0], c.Key.Coords[1], c.Key.Coords[2],
				c.Path,
				int64(c.NodeCount),
				c.FarCount,
				c.BuildTime.Microseconds(),
				r.at.Format(time.RFC3339Nano),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqJob:
			j := r.job
			if insertJob == nil {
				continue
			}
			cached := 0
			if j.Cached {
				cached = 1
			}
			if _, err := tx.Stmt(insertJob).Exec(
				j.Time.Format(time.RFC3339Nano),
				j.Chunk[0], j.Chunk[1], j.Chunk[2],
				j.Resolution,
				j.Outcome,
				cached,
				j.QueueMicros,
				j.BuildMicros,
				j.TotalMicros,
				int64(j.Nodes),
				int64(j.FarValues),
				j.Error,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
