package stream

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/lucidesk/lucidesk/pkg/protocol"
)

type stubClient struct {
	mu      sync.Mutex
	ready   bool
	full    bool
	packets [][]byte
}

func (c *stubClient) WebRTCReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *stubClient) EnqueueFrame(packet []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.packets = append(c.packets, packet)
	return true
}

func (c *stubClient) packetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

func newBroadcaster() (*Broadcaster, *Metrics) {
	metrics := NewMetrics()
	pacer := NewPacer(newCaptureTrack(), fixedFPS(30), metrics)
	return NewBroadcaster(pacer, metrics), metrics
}

func TestBroadcaster_SkipsWebRTCReadyClients(t *testing.T) {
	bc, _ := newBroadcaster()

	fallback := &stubClient{}
	promoted := &stubClient{ready: true}
	bc.Register(fallback)
	bc.Register(promoted)

	payload := []byte{0x00, 0x11, 0x22}
	captured := time.Now()
	bc.Publish(Frame{Bytes: payload, CaptureTime: captured, Epoch: 1})

	if promoted.packetCount() != 0 {
		t.Fatal("promoted client received a fallback packet")
	}
	if fallback.packetCount() != 1 {
		t.Fatalf("fallback client received %d packets, want 1", fallback.packetCount())
	}

	ts, got, err := protocol.DecodeVideoPacket(fallback.packets[0])
	if err != nil {
		t.Fatalf("decode packet: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %x, want %x", got, payload)
	}
	if d := ts.Sub(captured); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("timestamp drifted by %v", d)
	}
}

func TestBroadcaster_SilentDropOnFullClient(t *testing.T) {
	bc, metrics := newBroadcaster()

	full := &stubClient{full: true}
	bc.Register(full)

	bc.Publish(Frame{Bytes: []byte{0x01}, CaptureTime: time.Now(), Epoch: 1})

	if full.packetCount() != 0 {
		t.Fatal("full client accepted a packet")
	}
	snap := metrics.Snapshot()
	if snap.BinaryDrops != 1 {
		t.Fatalf("BinaryDrops = %d, want 1", snap.BinaryDrops)
	}
	if snap.BinaryPackets != 0 {
		t.Fatalf("BinaryPackets = %d, want 0", snap.BinaryPackets)
	}
}

func TestBroadcaster_UnregisterStopsDelivery(t *testing.T) {
	bc, _ := newBroadcaster()

	c := &stubClient{}
	bc.Register(c)
	bc.Publish(Frame{Bytes: []byte{0x01}, CaptureTime: time.Now(), Epoch: 1})
	bc.Unregister(c)
	bc.Publish(Frame{Bytes: []byte{0x02}, CaptureTime: time.Now(), Epoch: 1})

	if c.packetCount() != 1 {
		t.Fatalf("client received %d packets, want 1", c.packetCount())
	}
	if bc.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", bc.ClientCount())
	}
}

func TestBroadcaster_CountsPacerOverflow(t *testing.T) {
	bc, metrics := newBroadcaster()

	// The pacer is never started, so its queue fills and the overflow is
	// counted without ever blocking Publish.
	f := Frame{Bytes: []byte{0x00}, CaptureTime: time.Now(), Epoch: 1}
	for i := 0; i < pacerQueueCap+3; i++ {
		bc.Publish(f)
	}

	snap := metrics.Snapshot()
	if snap.TrackDrops != 3 {
		t.Fatalf("TrackDrops = %d, want 3", snap.TrackDrops)
	}
	if snap.FramesIn != uint64(pacerQueueCap+3) {
		t.Fatalf("FramesIn = %d", snap.FramesIn)
	}
}

func TestBroadcaster_CountsKeyframes(t *testing.T) {
	bc, metrics := newBroadcaster()

	bc.Publish(Frame{Bytes: []byte{0x00}, CaptureTime: time.Now(), Epoch: 1}) // key
	bc.Publish(Frame{Bytes: []byte{0x01}, CaptureTime: time.Now(), Epoch: 1}) // delta
	bc.Publish(Frame{Bytes: []byte{0x02}, CaptureTime: time.Now(), Epoch: 1}) // key

	if got := metrics.Snapshot().Keyframes; got != 2 {
		t.Fatalf("Keyframes = %d, want 2", got)
	}
}

func TestBroadcaster_StartStopIdempotent(t *testing.T) {
	bc, _ := newBroadcaster()
	bc.Start()
	bc.Stop()
	bc.Stop()
}
