package observerproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackWords(t *testing.T) {
	nodes := []uint32{0x80000001, 0x00ff00ff}
	far := []uint32{42}
	b := PackWords(nodes, far)
	require.Len(t, b, 12)
	require.Equal(t, []byte{0x01, 0x00, 0x00, 0x80}, b[:4])

	gotNodes, gotFar, err := UnpackWords(b, 2, 1)
	require.NoError(t, err)
	require.Equal(t, nodes, gotNodes)
	require.Equal(t, far, gotFar)

	_, _, err = UnpackWords(b, 3, 1)
	require.Error(t, err)
}

func TestUnpackWordsEmpty(t *testing.T) {
	n, f, err := UnpackWords(nil, 0, 0)
	require.NoError(t, err)
	require.Empty(t, n)
	require.Empty(t, f)
}
