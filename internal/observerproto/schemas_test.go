package observerproto_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelstream.ai/internal/observerproto"
)

func TestSchemas_ValidateMessages(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Round-trip through JSON so the validator sees the wire shape.
	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	validate(compile("subscribe.schema.json"), observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		MinResolution:   16,
	})

	validate(compile("chunk.schema.json"), observerproto.ChunkMsg{
		Type:            "CHUNK",
		ProtocolVersion: observerproto.Version,
		Slot:            [3]int{1, 2, 0},
		Chunk:           [3]int{-3, 9, 0},
		Resolution:      32,
		RootNodeIndex:   17,
		Nodes:           120,
		FarValues:       0,
		Encoding:        observerproto.PayloadEncoding,
		Bytes:           88,
	})

	validate(compile("bootstrap.schema.json"), observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		Scene:           "terrain_7",
		Grid: observerproto.GridParams{
			Size: 7, Height: 1, ChunkResolution: 64, MinResolution: 4, MaxResolution: 64, VoxelScale: 1,
		},
		Viewer: [3]int{0, 0, 0},
	})
}

func TestSchemas_RejectWrongType(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "subscribe.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var v any
	_ = json.Unmarshal([]byte(`{"type":"HELLO","protocol_version":"0.1"}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected HELLO to be rejected")
	}
}
