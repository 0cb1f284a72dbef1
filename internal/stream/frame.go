// Package stream fans de-muxed video frames out to the delivery sinks: the
// process-wide WebRTC sample track through a pacing writer, and each
// fallback client's bounded binary queue.
package stream

import "time"

// Frame is one complete compressed video frame with no container framing.
// CaptureTime is the wall clock at de-mux emit; Epoch identifies the
// encoder instance that produced it.
type Frame struct {
	Bytes       []byte
	CaptureTime time.Time
	Epoch       uint32
}

// IsKeyframe reports whether the payload is a VP8 key frame: the lowest
// bit of the frame tag's first byte is zero for key frames.
func (f Frame) IsKeyframe() bool {
	return len(f.Bytes) > 0 && f.Bytes[0]&0x01 == 0
}
