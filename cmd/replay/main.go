package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/stream"
)

func main() {
	var (
		eventsDir = flag.String("events", "./data/events", "events dir containing jobs-*.jsonl.zst")
		since     = flag.String("since", "", "ignore events before this RFC3339 time (optional)")
		csv       = flag.Bool("csv", false, "print per-resolution rows as CSV")
	)
	flag.Parse()

	var from time.Time
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintln(os.Stderr, "-since:", err)
			os.Exit(2)
		}
		from = t
	}

	files, err := persistlog.ListFiles(*eventsDir, persistlog.JobsPrefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no job files found in", *eventsDir)
		os.Exit(1)
	}

	sum := newSummary()
	for _, path := range files {
		err := persistlog.ReadJobs(path, func(ev stream.JobEvent) error {
			if !from.IsZero() && ev.Time.Before(from) {
				return nil
			}
			sum.add(ev)
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	sum.print(os.Stdout, *csv)
}

// summary aggregates job events per outcome and, for applied jobs, per
// resolution.
type summary struct {
	total    int
	outcomes map[string]int
	byRes    map[int]*resStats
	first    time.Time
	last     time.Time
}

type resStats struct {
	jobs                   int
	cached                 int
	buildUS, flatUS, allUS int64
	nodes                  int64
}

func newSummary() *summary {
	return &summary{outcomes: map[string]int{}, byRes: map[int]*resStats{}}
}

func (s *summary) add(ev stream.JobEvent) {
	s.total++
	s.outcomes[ev.Outcome]++
	if s.first.IsZero() || ev.Time.Before(s.first) {
		s.first = ev.Time
	}
	if ev.Time.After(s.last) {
		s.last = ev.Time
	}
	if ev.Outcome != stream.OutcomeApplied.String() {
		return
	}
	r := s.byRes[ev.Resolution]
	if r == nil {
		r = &resStats{}
		s.byRes[ev.Resolution] = r
	}
	r.jobs++
	if ev.Cached {
		r.cached++
	}
	r.buildUS += ev.BuildMicros
	r.flatUS += ev.FlatMicros
	r.allUS += ev.TotalMicros
	r.nodes += int64(ev.Nodes)
}

func (s *summary) resolutions() []int {
	out := make([]int, 0, len(s.byRes))
	for r := range s.byRes {
		out = append(out, r)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func (r *resStats) mean(total int64) float64 {
	if r.jobs == 0 {
		return 0
	}
	return float64(total) / float64(r.jobs)
}

func (s *summary) print(w *os.File, csv bool) {
	if csv {
		fmt.Fprintln(w, "resolution,jobs,cached,mean_build_us,mean_flatten_us,mean_total_us,mean_nodes")
		for _, res := range s.resolutions() {
			r := s.byRes[res]
			fmt.Fprintf(w, "%d,%d,%d,%.1f,%.1f,%.1f,%.1f\n", res, r.jobs, r.cached,
				r.mean(r.buildUS), r.mean(r.flatUS), r.mean(r.allUS), r.mean(r.nodes))
		}
		return
	}
	fmt.Fprintf(w, "jobs=%d span=%s\n", s.total, s.last.Sub(s.first).Round(time.Millisecond))
	names := make([]string, 0, len(s.outcomes))
	for o := range s.outcomes {
		names = append(names, o)
	}
	sort.Strings(names)
	for _, o := range names {
		fmt.Fprintf(w, "  %-9s %d\n", o, s.outcomes[o])
	}
	for _, res := range s.resolutions() {
		r := s.byRes[res]
		fmt.Fprintf(w, "res=%-4d jobs=%d cached=%d build=%.0fus flatten=%.0fus total=%.0fus nodes=%.0f\n",
			res, r.jobs, r.cached, r.mean(r.buildUS), r.mean(r.flatUS), r.mean(r.allUS), r.mean(r.nodes))
	}
}
