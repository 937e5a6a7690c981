package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"voxelstream.ai/internal/observerproto"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(func() observerproto.BootstrapResponse {
		return observerproto.BootstrapResponse{
			Scene:  "terrain_3",
			Grid:   observerproto.GridParams{Size: 3, Height: 1, ChunkResolution: 32, MinResolution: 8, MaxResolution: 32, VoxelScale: 1},
			Viewer: [3]int{4, -1, 0},
			Loaded: 9,
		}
	}, false, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	b, _ := json.Marshal(sub)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
	return conn
}

func TestBootstrap(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/bootstrap")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got observerproto.BootstrapResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, observerproto.Version, got.ProtocolVersion)
	require.Equal(t, "terrain_3", got.Scene)
	require.Equal(t, 3, got.Grid.Size)
	require.Equal(t, [3]int{4, -1, 0}, got.Viewer)

	post, err := http.Post(ts.URL+"/v1/bootstrap", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestPublishChunk_HeaderThenCompressedPayload(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts, observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version})
	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	nodes := []uint32{0x80000001, 0x0000ff00}
	far := []uint32{7}
	require.NoError(t, s.PublishChunk(observerproto.ChunkMsg{
		Slot: [3]int{1, 1, 0}, Chunk: [3]int{4, -1, 0}, Resolution: 32, RootNodeIndex: 5,
	}, nodes, far))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, b, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	var hdr observerproto.ChunkMsg
	require.NoError(t, json.Unmarshal(b, &hdr))
	require.Equal(t, "CHUNK", hdr.Type)
	require.Equal(t, 2, hdr.Nodes)
	require.Equal(t, 1, hdr.FarValues)
	require.Equal(t, uint32(5), hdr.RootNodeIndex)

	typ, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, typ)
	require.Len(t, payload, hdr.Bytes)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	require.NoError(t, err)
	gotNodes, gotFar, err := observerproto.UnpackWords(raw, hdr.Nodes, hdr.FarValues)
	require.NoError(t, err)
	require.Equal(t, nodes, gotNodes)
	require.Equal(t, far, gotFar)
}

func TestPublishChunk_MinResolutionFilter(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts, observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, MinResolution: 16, Views: true})
	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.PublishChunk(observerproto.ChunkMsg{Resolution: 8}, []uint32{0}, nil))
	s.PublishView([3]int{1, 2, 0}, [3]int{1, 2, 0})

	// The low-resolution chunk is filtered, so the first frame is the view.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var v observerproto.ViewMsg
	require.NoError(t, json.Unmarshal(b, &v))
	require.Equal(t, "VIEW", v.Type)
	require.Equal(t, [3]int{1, 2, 0}, v.Chunk)
}

func TestHandshakeRejectsWrongType(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts, observerproto.SubscribeMsg{Type: "HELLO", ProtocolVersion: observerproto.Version})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	require.Equal(t, 0, s.Subscribers())
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	s, _ := newTestServer(t)
	require.NoError(t, s.PublishChunk(observerproto.ChunkMsg{Resolution: 8}, []uint32{1}, nil))
	require.Zero(t, s.Dropped())
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.4:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
