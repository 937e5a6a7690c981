// Package observerproto defines the messages exchanged with live observers
// of a streaming session.
package observerproto

import (
	"encoding/binary"
	"fmt"
)

// Version is the observer protocol version.
const Version = "0.1"

// PayloadEncoding names the binary frame that follows every CHUNK header:
// node words then far values, little-endian uint32, zstd compressed.
const PayloadEncoding = "SVO_U32LE_ZSTD"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Chunks below MinResolution are not forwarded.
	MinResolution int `json:"min_resolution,omitempty"`
	// Send VIEW messages when the viewer changes chunk.
	Views bool `json:"views,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string     `json:"protocol_version"`
	Scene           string     `json:"scene"`
	Grid            GridParams `json:"grid"`
	Viewer          [3]int     `json:"viewer"`
	Loaded          int        `json:"loaded"`
}

type GridParams struct {
	Size            int     `json:"size"`
	Height          int     `json:"height"`
	ThreeD          bool    `json:"three_d"`
	ChunkResolution int     `json:"chunk_resolution"`
	MinResolution   int     `json:"min_resolution"`
	MaxResolution   int     `json:"max_resolution"`
	VoxelScale      float32 `json:"voxel_scale"`
}

// Server -> Client. Sent as a text frame, immediately followed by one binary
// frame of Bytes compressed bytes.
type ChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Slot       [3]int `json:"slot"`
	Chunk      [3]int `json:"chunk"`
	Resolution int    `json:"resolution"`

	RootNodeIndex   uint32 `json:"root_node_index"`
	FarValuesOffset uint32 `json:"far_values_offset"`
	Nodes           int    `json:"nodes"`
	FarValues       int    `json:"far_values"`

	Encoding string `json:"encoding"`
	Bytes    int    `json:"bytes"`
}

// Server -> Client. The viewer entered a new chunk.
type ViewMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Chunk           [3]int `json:"chunk"`
	GridPos         [3]int `json:"grid_pos"`
}

// PackWords lays out nodes followed by far values as little-endian words.
func PackWords(nodes, far []uint32) []byte {
	b := make([]byte, 4*(len(nodes)+len(far)))
	off := 0
	for _, w := range nodes {
		binary.LittleEndian.PutUint32(b[off:], w)
		off += 4
	}
	for _, w := range far {
		binary.LittleEndian.PutUint32(b[off:], w)
		off += 4
	}
	return b
}

// UnpackWords splits a packed payload using the counts from its header.
func UnpackWords(b []byte, nodes, far int) ([]uint32, []uint32, error) {
	if nodes < 0 || far < 0 || len(b) != 4*(nodes+far) {
		return nil, nil, fmt.Errorf("payload is %d bytes, header wants %d nodes + %d far values", len(b), nodes, far)
	}
	words := make([]uint32, nodes+far)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return words[:nodes:nodes], words[nodes:], nil
}
