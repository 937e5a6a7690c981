package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voxelstream.ai/internal/stream"
)

func TestSummaryAggregates(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	s := newSummary()
	s.add(stream.JobEvent{Time: t0, Outcome: "applied", Resolution: 32, BuildMicros: 100, TotalMicros: 150, Nodes: 10})
	s.add(stream.JobEvent{Time: t0.Add(time.Second), Outcome: "applied", Resolution: 32, BuildMicros: 300, TotalMicros: 350, Nodes: 30, Cached: true})
	s.add(stream.JobEvent{Time: t0.Add(2 * time.Second), Outcome: "applied", Resolution: 8, BuildMicros: 5, Nodes: 1})
	s.add(stream.JobEvent{Time: t0.Add(500 * time.Millisecond), Outcome: "stale", Resolution: 16})

	require.Equal(t, 4, s.total)
	require.Equal(t, 3, s.outcomes["applied"])
	require.Equal(t, 1, s.outcomes["stale"])
	require.Equal(t, []int{32, 8}, s.resolutions())

	r := s.byRes[32]
	require.Equal(t, 2, r.jobs)
	require.Equal(t, 1, r.cached)
	require.InDelta(t, 200, r.mean(r.buildUS), 1e-9)
	require.InDelta(t, 20, r.mean(r.nodes), 1e-9)
	require.Equal(t, 2*time.Second, s.last.Sub(s.first))
}
