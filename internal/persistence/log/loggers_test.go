package log

import (
	"path/filepath"
	"testing"
	"time"

	"voxelstream.ai/internal/stream"
)

func TestJobLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewJobLogger(dir)
	evs := []stream.JobEvent{
		{Chunk: [3]int{1, 2, 0}, Resolution: 64, Outcome: "applied", Nodes: 120, BuildMicros: 900},
		{Chunk: [3]int{-1, 0, 1}, Resolution: 8, Outcome: "stale"},
	}
	for _, ev := range evs {
		if err := l.WriteJob(ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, JobsPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files: %v", files)
	}
	var got []stream.JobEvent
	if err := ReadJobs(files[0], func(ev stream.JobEvent) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].Nodes != 120 || got[1].Outcome != "stale" || got[1].Chunk != [3]int{-1, 0, 1} {
		t.Fatalf("got %+v", got)
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "jobs")
	base := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return base }
	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.now = func() time.Time { return base.Add(2 * time.Minute) }
	if err := w.Write(map[string]int{"a": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	files, err := ListFiles(dir, "jobs")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{
		filepath.Join(dir, "jobs-2026-03-01-10.jsonl.zst"),
		filepath.Join(dir, "jobs-2026-03-01-11.jsonl.zst"),
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files %v want %v", files, want)
	}
}
