package stream

import (
	"fmt"
	"sync"
	"time"
)

// Metrics tracks fan-out counters for the periodic stats line.
type Metrics struct {
	mu sync.RWMutex

	FramesIn      uint64
	Keyframes     uint64
	TrackSamples  uint64
	TrackBytes    uint64
	TrackDrops    uint64
	BinaryPackets uint64
	BinaryBytes   uint64
	BinaryDrops   uint64

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordFrame(size int, keyframe bool) {
	m.mu.Lock()
	m.FramesIn++
	if keyframe {
		m.Keyframes++
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordTrackSample(size int) {
	m.mu.Lock()
	m.TrackSamples++
	m.TrackBytes += uint64(size)
	m.mu.Unlock()
}

// RecordTrackDrop counts a frame lost to a full pacer queue and returns
// the running total so callers can log sparsely.
func (m *Metrics) RecordTrackDrop() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrackDrops++
	return m.TrackDrops
}

func (m *Metrics) RecordBinaryPacket(size int) {
	m.mu.Lock()
	m.BinaryPackets++
	m.BinaryBytes += uint64(size)
	m.mu.Unlock()
}

func (m *Metrics) RecordBinaryDrop() {
	m.mu.Lock()
	m.BinaryDrops++
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy for logging.
type MetricsSnapshot struct {
	FramesIn      uint64
	Keyframes     uint64
	TrackSamples  uint64
	TrackDrops    uint64
	BinaryPackets uint64
	BinaryDrops   uint64
	TrackKBps     float64
	Uptime        time.Duration
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	rate := float64(0)
	if uptime.Seconds() > 0 {
		rate = float64(m.TrackBytes) / uptime.Seconds() / 1024.0
	}

	return MetricsSnapshot{
		FramesIn:      m.FramesIn,
		Keyframes:     m.Keyframes,
		TrackSamples:  m.TrackSamples,
		TrackDrops:    m.TrackDrops,
		BinaryPackets: m.BinaryPackets,
		BinaryDrops:   m.BinaryDrops,
		TrackKBps:     rate,
		Uptime:        uptime,
	}
}

func formatRate(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
