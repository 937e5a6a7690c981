// Package transfer is the boundary between the streaming core and device
// memory: stage words, commit ordered copy batches, observe completion.
package transfer

import (
	"context"
	"errors"
)

// Target names a destination region.
type Target uint8

const (
	Nodes Target = iota
	FarValues
	ChunkTable
)

func (t Target) String() string {
	switch t {
	case Nodes:
		return "nodes"
	case FarValues:
		return "far_values"
	case ChunkTable:
		return "chunk_table"
	default:
		return "unknown"
	}
}

// Copy moves Len words from staging offset Src to DstOffset in Dst.
type Copy struct {
	Src       uint32
	Dst       Target
	DstOffset uint32
	Len       uint32
}

// Token identifies a committed batch. Batches complete in commit order.
type Token uint64

var (
	ErrStagingFull = errors.New("transfer: staging region full")
	ErrOutOfRange  = errors.New("transfer: copy out of range")
	ErrClosed      = errors.New("transfer: device closed")
)

// Device is what the scheduler needs from the transfer backend.
type Device interface {
	Stage(words []uint32) (uint32, error)
	Unstage(offset uint32) error
	// Commit queues copies to run in order as one batch.
	Commit(copies ...Copy) (Token, error)
	Poll(t Token) bool
	Await(ctx context.Context, t Token) error
}
