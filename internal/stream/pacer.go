package stream

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/lucidesk/lucidesk/internal/logging"
)

// pacerQueueCap bounds the frames waiting for the pacing writer. The
// producer must never block on the track (a stalled stdout reader would
// deadlock the encoder), so overflow drops instead.
const pacerQueueCap = 300

// SampleWriter is the track surface the pacer writes to.
// *webrtc.TrackLocalStaticSample satisfies it.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

// Pacer converts the frame stream into track samples carrying explicit
// durations. It holds each frame until its successor arrives and writes it
// with duration = successor.CaptureTime − frame.CaptureTime, so inter-frame
// spacing is exact without a wall-clock scheduler. Across an epoch change
// the held frame is flushed with a nominal 1/fps instead, which keeps an
// encoder restart from producing one giant-duration sample.
type Pacer struct {
	track   SampleWriter
	fps     func() int
	metrics *Metrics

	queue chan Frame

	writeErrs uint64

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewPacer builds a pacer writing to track. fps reports the current
// configured framerate and is consulted per epoch flush.
func NewPacer(track SampleWriter, fps func() int, metrics *Metrics) *Pacer {
	return &Pacer{
		track:   track,
		fps:     fps,
		metrics: metrics,
		queue:   make(chan Frame, pacerQueueCap),
		done:    make(chan struct{}),
	}
}

// Enqueue hands a frame to the pacing writer without blocking. It reports
// false when the queue is full and the frame was dropped.
func (p *Pacer) Enqueue(f Frame) bool {
	select {
	case p.queue <- f:
		return true
	default:
		return false
	}
}

// Start launches the pacing writer.
func (p *Pacer) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run()
		}()
	})
}

// Stop flushes the held frame and stops the writer, blocking until it has
// exited.
func (p *Pacer) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Pacer) run() {
	var held Frame
	var holding bool

	for {
		select {
		case next := <-p.queue:
			if !holding {
				held, holding = next, true
				continue
			}
			if next.Epoch != held.Epoch {
				p.write(held, p.nominalDuration())
			} else {
				p.write(held, next.CaptureTime.Sub(held.CaptureTime))
			}
			held = next
		case <-p.done:
			if holding {
				p.write(held, p.nominalDuration())
			}
			return
		}
	}
}

func (p *Pacer) write(f Frame, d time.Duration) {
	if d < time.Microsecond {
		d = time.Microsecond
	}
	if err := p.track.WriteSample(media.Sample{Data: f.Bytes, Duration: d}); err != nil {
		p.writeErrs++
		if p.writeErrs == 1 || p.writeErrs%100 == 0 {
			log.Warn("track write failed", logging.KeyError, err, "count", p.writeErrs)
		}
		return
	}
	p.metrics.RecordTrackSample(len(f.Bytes))
}

func (p *Pacer) nominalDuration() time.Duration {
	fps := p.fps()
	if fps < 1 {
		fps = 30
	}
	return time.Second / time.Duration(fps)
}
