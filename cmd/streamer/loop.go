package main

import (
	"context"
	"log"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"

	"voxelstream.ai/internal/campath"
	"voxelstream.ai/internal/lod"
	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/stream"
	"voxelstream.ai/internal/transfer"
	"voxelstream.ai/internal/transport/observer"
)

// driver moves the camera each frame, along a keyframe path when one is
// loaded and in a straight line otherwise.
type driver struct {
	cam   *lod.Camera
	speed float32
	path  *campath.Path
	t     float32
}

func newDriver(cam *lod.Camera, speed float32) *driver {
	return &driver{cam: cam, speed: speed}
}

// advance moves the camera by dt seconds and returns the new view.
func (d *driver) advance(dt float32) lod.View {
	var target mgl32.Vec3
	if d.path != nil && len(d.path.Keyframes) > 0 {
		d.t += dt
		if dur := d.path.Duration(); dur > 0 && d.t > dur {
			d.t -= dur * float32(int(d.t/dur))
		}
		pos, dir := d.path.At(d.t)
		d.cam.LookAt(dir)
		target = pos
	} else {
		target = d.cam.Position.Add(d.cam.Direction.Mul(d.speed * dt))
	}
	delta := target.Sub(d.cam.Position)
	ext := d.cam.Extent()
	// A step of a chunk or more, like a path wrap, needs an exact recompute.
	if abs32(delta[0]) >= ext || abs32(delta[1]) >= ext || abs32(delta[2]) >= ext {
		d.cam.SetPosition(target)
	} else {
		d.cam.UpdatePosition(delta)
	}
	return d.cam.View()
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

type loopConfig struct {
	frameHz    int
	scanHz     int
	statsEvery time.Duration
}

// device is the part of the transfer device the loop reads back from.
type device interface {
	Read(t transfer.Target, off, n uint32) []uint32
}

type chunkPublisher interface {
	PublishChunk(msg observerproto.ChunkMsg, nodes, far []uint32) error
}

func run(ctx context.Context, cfg loopConfig, s *stream.Streamer, drv *driver, dev device, obs *observer.Server, logger *log.Logger) error {
	frame := time.Second / time.Duration(cfg.frameHz)
	scans := rate.NewLimiter(rate.Limit(cfg.scanHz), 1)

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	var lastStats time.Time
	last := time.Now()
	lastChunk := drv.cam.Chunk
	s.Observe(drv.cam.View())
	s.Scan()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			dt := float32(now.Sub(last).Seconds())
			last = now

			v := drv.advance(dt)
			s.Observe(v)
			rep := s.Reconcile()
			for _, err := range rep.Errors {
				logger.Printf("load: %v", err)
			}
			if obs != nil {
				publish(obs, dev, rep.Applied, logger)
				if v.Chunk != lastChunk {
					obs.PublishView(v.Chunk.Array(), v.GridPos.Array())
				}
			}
			if v.Chunk != lastChunk {
				lastChunk = v.Chunk
				logger.Printf("viewer entered chunk %s slot %s", v.Chunk, v.GridPos)
			}
			if scans.Allow() {
				s.Scan()
			}
			if cfg.statsEvery > 0 && now.Sub(lastStats) >= cfg.statsEvery {
				lastStats = now
				logger.Printf("%s loading=%d", s.Stats(), s.Loading())
			}
		}
	}
}

func publish(pub chunkPublisher, dev device, applied []stream.Applied, logger *log.Logger) {
	for _, a := range applied {
		c := a.Chunk
		var nodes, far []uint32
		if c.RootNodeIndex != 0 {
			nodes = dev.Read(transfer.Nodes, c.RootNodeIndex, c.ChunkSize)
			if c.OffsetSize > 0 {
				far = dev.Read(transfer.FarValues, c.FarValuesOffset, c.OffsetSize)
			}
		}
		err := pub.PublishChunk(observerproto.ChunkMsg{
			Slot:            a.Slot.Array(),
			Chunk:           c.Coords.Array(),
			Resolution:      int(c.Resolution),
			RootNodeIndex:   c.RootNodeIndex,
			FarValuesOffset: c.FarValuesOffset,
		}, nodes, far)
		if err != nil {
			logger.Printf("observer: publish chunk %s: %v", c.Coords, err)
		}
	}
}
