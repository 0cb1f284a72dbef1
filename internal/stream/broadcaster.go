package stream

import (
	"sync"
	"time"

	"github.com/lucidesk/lucidesk/internal/logging"
	"github.com/lucidesk/lucidesk/pkg/protocol"
)

var log = logging.L("stream")

// BinaryClient is one WebSocket fallback sink. EnqueueFrame must never
// block and reports false when the packet was dropped. The packet buffer
// is shared across clients and must be treated as read-only.
type BinaryClient interface {
	WebRTCReady() bool
	EnqueueFrame(packet []byte) bool
}

// Broadcaster delivers every de-muxed frame to the pacing writer and, as
// pre-framed binary packets, to each registered client that has not
// promoted itself to WebRTC.
type Broadcaster struct {
	pacer   *Pacer
	metrics *Metrics

	mu      sync.RWMutex
	clients map[BinaryClient]struct{}

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewBroadcaster(pacer *Pacer, metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		pacer:   pacer,
		metrics: metrics,
		clients: make(map[BinaryClient]struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the pacing writer and the periodic stats line.
func (b *Broadcaster) Start() {
	b.startOnce.Do(func() {
		b.pacer.Start()
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.logLoop()
		}()
	})
}

// Stop ends the stats logger and flushes the pacer.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
	b.pacer.Stop()
}

// Register adds a client to the fan-out set.
func (b *Broadcaster) Register(c BinaryClient) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

// Unregister removes a client; subsequent frames are no longer delivered.
func (b *Broadcaster) Unregister(c BinaryClient) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// ClientCount returns the number of registered clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish is the supervisor's emit callback. It never blocks: the pacer
// queue drops with a warning, fallback queues drop silently.
func (b *Broadcaster) Publish(f Frame) {
	b.metrics.RecordFrame(len(f.Bytes), f.IsKeyframe())

	if !b.pacer.Enqueue(f) {
		if n := b.metrics.RecordTrackDrop(); n == 1 || n%100 == 0 {
			log.Warn("pacer queue full, dropping frame", "drops", n, logging.KeyEpoch, f.Epoch)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	// One shared packet for every fallback client; framed only if needed.
	var packet []byte
	for c := range b.clients {
		if c.WebRTCReady() {
			continue
		}
		if packet == nil {
			packet = protocol.EncodeVideoPacket(f.CaptureTime, f.Bytes)
		}
		if c.EnqueueFrame(packet) {
			b.metrics.RecordBinaryPacket(len(packet))
		} else {
			b.metrics.RecordBinaryDrop()
		}
	}
}

func (b *Broadcaster) logLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			snap := b.metrics.Snapshot()
			if snap.FramesIn == 0 {
				continue
			}
			log.Info("stream stats",
				"frames", snap.FramesIn,
				"keyframes", snap.Keyframes,
				"trackSamples", snap.TrackSamples,
				"trackDrops", snap.TrackDrops,
				"binaryPackets", snap.BinaryPackets,
				"binaryDrops", snap.BinaryDrops,
				"trackKBps", formatRate(snap.TrackKBps),
				"clients", b.ClientCount(),
				"uptime", snap.Uptime.Round(time.Second),
			)
		}
	}
}
