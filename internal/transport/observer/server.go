// Package observer serves a read-only websocket feed of chunks as they are
// committed to the chunk table.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/observerproto"
)

// BootstrapFunc reports the current session parameters.
type BootstrapFunc func() observerproto.BootstrapResponse

type Server struct {
	bootstrap   BootstrapFunc
	log         *log.Logger
	allowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	enc *zstd.Encoder

	mu   sync.RWMutex
	subs map[string]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	out    chan frame
	minRes atomic.Int64
	views  atomic.Bool
}

// frame is one text message and an optional binary message that must be
// written back to back.
type frame struct {
	text   []byte
	binary []byte
}

func NewServer(bootstrap BootstrapFunc, allowRemote bool, logger *log.Logger) (*Server, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &Server{
		bootstrap:   bootstrap,
		log:         logger,
		allowRemote: allowRemote,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		enc:  enc,
		subs: map[string]*subscriber{},
	}, nil
}

// Handler mounts the bootstrap and websocket endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/ws", s.WSHandler())
	return mux
}

func (s *Server) allowed(r *http.Request) bool {
	return s.allowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := s.bootstrap()
		resp.ProtocolVersion = observerproto.Version
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// Subscribers returns the number of connected observers.
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped counts frames discarded because an observer fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// PublishChunk forwards a committed chunk to every subscriber whose minimum
// resolution it meets. Slow subscribers lose frames rather than block.
func (s *Server) PublishChunk(msg observerproto.ChunkMsg, nodes, far []uint32) error {
	if s.Subscribers() == 0 {
		return nil
	}
	payload := s.enc.EncodeAll(observerproto.PackWords(nodes, far), nil)

	msg.Type = "CHUNK"
	msg.ProtocolVersion = observerproto.Version
	msg.Encoding = observerproto.PayloadEncoding
	msg.Nodes = len(nodes)
	msg.FarValues = len(far)
	msg.Bytes = len(payload)
	header, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("observer: encode chunk header: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if int64(msg.Resolution) < sub.minRes.Load() {
			continue
		}
		s.send(sub, frame{text: header, binary: payload})
	}
	return nil
}

// PublishView tells subscribers that asked for views where the viewer is.
func (s *Server) PublishView(chunk, gridPos [3]int) {
	if s.Subscribers() == 0 {
		return
	}
	b, _ := json.Marshal(observerproto.ViewMsg{
		Type:            "VIEW",
		ProtocolVersion: observerproto.Version,
		Chunk:           chunk,
		GridPos:         gridPos,
	})
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.views.Load() {
			s.send(sub, frame{text: b})
		}
	}
}

func (s *Server) send(sub *subscriber, f frame) {
	select {
	case sub.out <- f:
	default:
		s.dropped.Add(1)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		state := &subscriber{out: make(chan frame, 256)}
		state.apply(sub)

		s.mu.Lock()
		s.subs[sid] = state
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()
		if s.log != nil {
			s.log.Printf("observer %s connected from %s", sid, r.RemoteAddr)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case f := <-state.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, f.text); err != nil {
						writeErr <- err
						return
					}
					if f.binary == nil {
						continue
					}
					if err := conn.WriteMessage(websocket.BinaryMessage, f.binary); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
				continue
			}
			state.apply(sub)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (sub *subscriber) apply(m observerproto.SubscribeMsg) {
	minRes := m.MinResolution
	if minRes < 0 {
		minRes = 0
	}
	sub.minRes.Store(int64(minRes))
	sub.views.Store(m.Views)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
