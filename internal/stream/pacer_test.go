package stream

import (
	"bytes"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
)

type captureTrack struct {
	ch chan media.Sample
}

func newCaptureTrack() *captureTrack {
	return &captureTrack{ch: make(chan media.Sample, 32)}
}

func (c *captureTrack) WriteSample(s media.Sample) error {
	c.ch <- s
	return nil
}

func (c *captureTrack) next(t *testing.T) media.Sample {
	t.Helper()
	select {
	case s := <-c.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no sample written")
		return media.Sample{}
	}
}

func fixedFPS(fps int) func() int {
	return func() int { return fps }
}

// waitDrained blocks until the pacing writer has consumed everything
// enqueued so far.
func waitDrained(t *testing.T, p *Pacer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(p.queue) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("pacer queue never drained")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPacer_DurationFromCaptureGap(t *testing.T) {
	track := newCaptureTrack()
	metrics := NewMetrics()
	p := NewPacer(track, fixedFPS(30), metrics)

	base := time.Now()
	p.Enqueue(Frame{Bytes: []byte{0x00, 0x01}, CaptureTime: base, Epoch: 1})
	p.Enqueue(Frame{Bytes: []byte{0x01, 0x02}, CaptureTime: base.Add(33 * time.Millisecond), Epoch: 1})
	p.Enqueue(Frame{Bytes: []byte{0x00, 0x03}, CaptureTime: base.Add(53 * time.Millisecond), Epoch: 1})

	p.Start()
	defer p.Stop()

	first := track.next(t)
	if !bytes.Equal(first.Data, []byte{0x00, 0x01}) {
		t.Fatalf("first sample data = %x", first.Data)
	}
	if first.Duration != 33*time.Millisecond {
		t.Fatalf("first duration = %v, want 33ms", first.Duration)
	}

	second := track.next(t)
	if second.Duration != 20*time.Millisecond {
		t.Fatalf("second duration = %v, want 20ms", second.Duration)
	}

	if got := metrics.Snapshot().TrackSamples; got != 2 {
		t.Fatalf("TrackSamples = %d, want 2", got)
	}
}

func TestPacer_ClampsDurationToMicrosecond(t *testing.T) {
	track := newCaptureTrack()
	p := NewPacer(track, fixedFPS(30), NewMetrics())

	base := time.Now()
	p.Enqueue(Frame{Bytes: []byte{0xaa}, CaptureTime: base, Epoch: 1})
	p.Enqueue(Frame{Bytes: []byte{0xbb}, CaptureTime: base, Epoch: 1})

	p.Start()
	defer p.Stop()

	if d := track.next(t).Duration; d != time.Microsecond {
		t.Fatalf("duration = %v, want 1µs clamp", d)
	}
}

func TestPacer_EpochChangeFlushesWithNominalDuration(t *testing.T) {
	track := newCaptureTrack()
	p := NewPacer(track, fixedFPS(25), NewMetrics())

	base := time.Now()
	p.Enqueue(Frame{Bytes: []byte{0xaa}, CaptureTime: base, Epoch: 1})
	// Hours of wall clock between epochs must not leak into the duration.
	p.Enqueue(Frame{Bytes: []byte{0xbb}, CaptureTime: base.Add(2 * time.Hour), Epoch: 2})

	p.Start()
	defer p.Stop()

	s := track.next(t)
	if !bytes.Equal(s.Data, []byte{0xaa}) {
		t.Fatalf("flushed sample data = %x", s.Data)
	}
	if s.Duration != time.Second/25 {
		t.Fatalf("flushed duration = %v, want %v", s.Duration, time.Second/25)
	}
}

func TestPacer_StopFlushesHeldFrame(t *testing.T) {
	track := newCaptureTrack()
	p := NewPacer(track, fixedFPS(30), NewMetrics())

	p.Enqueue(Frame{Bytes: []byte{0xcc}, CaptureTime: time.Now(), Epoch: 1})
	p.Start()
	waitDrained(t, p)
	p.Stop()

	s := track.next(t)
	if !bytes.Equal(s.Data, []byte{0xcc}) {
		t.Fatalf("held frame not flushed, got %x", s.Data)
	}
	if s.Duration != time.Second/30 {
		t.Fatalf("flush duration = %v, want %v", s.Duration, time.Second/30)
	}
}

func TestPacer_EnqueueDropsWhenFull(t *testing.T) {
	p := NewPacer(newCaptureTrack(), fixedFPS(30), NewMetrics())

	f := Frame{Bytes: []byte{0x00}, CaptureTime: time.Now(), Epoch: 1}
	for i := 0; i < pacerQueueCap; i++ {
		if !p.Enqueue(f) {
			t.Fatalf("enqueue %d failed below capacity", i)
		}
	}
	if p.Enqueue(f) {
		t.Fatal("enqueue above capacity must report a drop")
	}
}
