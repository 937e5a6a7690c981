package transfer

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelstream.ai/internal/region"
)

func newDevice(t *testing.T) *MemoryDevice {
	t.Helper()
	d := NewMemoryDevice(MemoryConfig{StagingWords: 64, NodeWords: 32, FarWords: 8, ChunkTableWords: 8}, log.New(io.Discard, "", 0))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestCommitAppliesInOrder(t *testing.T) {
	d := newDevice(t)
	src, err := d.Stage([]uint32{1, 2, 3, 4, 5})
	require.NoError(t, err)

	tok, err := d.Commit(
		Copy{Src: src, Dst: Nodes, DstOffset: 10, Len: 3},
		Copy{Src: src + 3, Dst: ChunkTable, DstOffset: 2, Len: 2},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Await(ctx, tok))
	assert.True(t, d.Poll(tok))
	assert.Equal(t, []uint32{1, 2, 3}, d.Read(Nodes, 10, 3))
	assert.Equal(t, []uint32{4, 5}, d.Read(ChunkTable, 2, 2))

	require.NoError(t, d.Unstage(src))
	assert.Equal(t, uint32(0), d.StagingStats().Used)
}

func TestTokensCompleteSequentially(t *testing.T) {
	d := newDevice(t)
	src, err := d.Stage([]uint32{9})
	require.NoError(t, err)
	var last Token
	for i := uint32(0); i < 10; i++ {
		last, err = d.Commit(Copy{Src: src, Dst: Nodes, DstOffset: i, Len: 1})
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Await(ctx, last))
	for tok := Token(1); tok <= last; tok++ {
		assert.True(t, d.Poll(tok))
	}
}

func TestCommitOutOfRange(t *testing.T) {
	d := newDevice(t)
	_, err := d.Commit(Copy{Src: 1, Dst: FarValues, DstOffset: 7, Len: 2})
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = d.Commit(Copy{Src: 60, Dst: Nodes, Len: 8})
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestStageFull(t *testing.T) {
	d := newDevice(t)
	_, err := d.Stage(make([]uint32, 63))
	require.NoError(t, err)
	_, err = d.Stage([]uint32{1})
	require.ErrorIs(t, err, ErrStagingFull)
	require.ErrorIs(t, err, region.ErrOutOfSpace)
}

func TestAwaitUnknownToken(t *testing.T) {
	d := newDevice(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, d.Await(ctx, Token(42)))
}

func TestCommitAfterClose(t *testing.T) {
	d := newDevice(t)
	require.NoError(t, d.Close())
	_, err := d.Commit()
	require.ErrorIs(t, err, ErrClosed)
}
