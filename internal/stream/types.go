// Package stream schedules chunk loads for the grid around the viewer and
// applies finished transfers to the chunk table.
package stream

import (
	"time"

	"voxelstream.ai/internal/lod"
)

// Chunk is the device-facing chunk table entry.
type Chunk struct {
	FarValuesOffset uint32
	RootNodeIndex   uint32
}

func (c Chunk) Words() [2]uint32 { return [2]uint32{c.FarValuesOffset, c.RootNodeIndex} }

// ChunkWords is the size of one chunk table entry.
const ChunkWords = 2

// CpuChunk mirrors one grid slot. A zero RootNodeIndex means the slot holds
// no voxel data.
type CpuChunk struct {
	FarValuesOffset uint32
	RootNodeIndex   uint32
	Resolution      uint32
	ChunkSize       uint32 // node words
	OffsetSize      uint32 // far words
	Coords          lod.Coord
	Loading         bool
}

func (c CpuChunk) Entry() Chunk {
	return Chunk{FarValuesOffset: c.FarValuesOffset, RootNodeIndex: c.RootNodeIndex}
}

// Job asks the worker to load Chunk at Resolution into Slot.
type Job struct {
	Slot       lod.Coord
	SlotIndex  int
	Chunk      lod.Coord
	Resolution int
	Enqueued   time.Time
}

// Outcome is the terminal state of a job.
type Outcome uint8

const (
	OutcomeApplied Outcome = iota + 1
	OutcomeStale
	OutcomeNoSpace
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeNoSpace:
		return "no_space"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// JobEvent is written once per job when its outcome is reconciled.
type JobEvent struct {
	Time       time.Time `json:"time"`
	Slot       [3]int    `json:"slot"`
	Chunk      [3]int    `json:"chunk"`
	Resolution int       `json:"resolution"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`

	Cached      bool  `json:"cached"`
	QueueMicros int64 `json:"queue_us"`
	LoadMicros  int64 `json:"load_us"`
	BuildMicros int64 `json:"build_us"`
	FlatMicros  int64 `json:"flatten_us"`
	TotalMicros int64 `json:"total_us"`

	Nodes      uint32 `json:"nodes"`
	FarValues  uint32 `json:"far_values"`
	NodeOffset uint32 `json:"node_offset,omitempty"`
	FarOffset  uint32 `json:"far_offset,omitempty"`
}

// EventSink receives job events. Implementations should not block.
type EventSink interface {
	WriteJob(ev JobEvent) error
}
