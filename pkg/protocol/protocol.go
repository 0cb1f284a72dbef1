// Package protocol defines the wire contract between the lucidesk server and
// browser viewers: the JSON control messages multiplexed over the WebSocket
// and the binary framing of the fallback video channel. A custom viewer only
// needs this package to speak to the server.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Message types, client → server unless noted.
const (
	TypePing      = "ping"
	TypePong      = "pong" // server → client
	TypeKeyDown   = "keydown"
	TypeKeyUp     = "keyup"
	TypeMouseMove = "mousemove"
	TypeMouseDown = "mousedown"
	TypeMouseUp   = "mouseup"
	TypeSpawn     = "spawn"
	TypeConfig    = "config"
	TypeResize    = "resize"

	TypeWebRTCOffer  = "webrtc_offer"
	TypeWebRTCAnswer = "webrtc_answer" // server → client
	TypeWebRTCICE    = "webrtc_ice"    // both directions
	TypeWebRTCReady  = "webrtc_ready"
)

// ClientMessage is the union of every control message a viewer may send.
// Pointer fields distinguish "absent" from zero, which matters for config
// batching and for rejecting malformed coordinates.
type ClientMessage struct {
	Type string `json:"type"`

	// ping
	Timestamp *float64 `json:"timestamp,omitempty"`

	// keydown / keyup
	Key *string `json:"key,omitempty"`

	// mousemove (normalized to [0,1]) and mousedown / mouseup
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Button *int     `json:"button,omitempty"`

	// spawn
	Command *string `json:"command,omitempty"`

	// config: any subset, applied as one batch
	Bandwidth  *int  `json:"bandwidth,omitempty"`
	Quality    *int  `json:"quality,omitempty"`
	Framerate  *int  `json:"framerate,omitempty"`
	VBR        *bool `json:"vbr,omitempty"`
	CPUEffort  *int  `json:"cpu_effort,omitempty"`
	CPUThreads *int  `json:"cpu_threads,omitempty"`
	DrawMouse  *bool `json:"enable_desktop_mouse,omitempty"`

	// resize
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`

	// webrtc_offer / webrtc_ice; raw so the signaling layer owns decoding
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ServerMessage is what the server sends on the JSON channel.
type ServerMessage struct {
	Type      string   `json:"type"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	SDP       any      `json:"sdp,omitempty"`
	Candidate any      `json:"candidate,omitempty"`
}

// Binary video packet: one byte type tag, then the capture wall clock in
// milliseconds as a big-endian IEEE-754 double, then the raw frame payload.
const (
	VideoPacketType   = 1
	videoHeaderLength = 9
)

// EncodeVideoPacket frames one compressed video frame for the WebSocket
// fallback channel.
func EncodeVideoPacket(captureTime time.Time, payload []byte) []byte {
	packet := make([]byte, videoHeaderLength+len(payload))
	packet[0] = VideoPacketType
	ms := float64(captureTime.UnixNano()) / float64(time.Millisecond)
	binary.BigEndian.PutUint64(packet[1:videoHeaderLength], math.Float64bits(ms))
	copy(packet[videoHeaderLength:], payload)
	return packet
}

// DecodeVideoPacket splits a fallback-channel packet back into capture time
// and payload.
func DecodeVideoPacket(packet []byte) (time.Time, []byte, error) {
	if len(packet) < videoHeaderLength {
		return time.Time{}, nil, fmt.Errorf("video packet too short: %d bytes", len(packet))
	}
	if packet[0] != VideoPacketType {
		return time.Time{}, nil, fmt.Errorf("unexpected packet type %d", packet[0])
	}
	ms := math.Float64frombits(binary.BigEndian.Uint64(packet[1:videoHeaderLength]))
	ts := time.Unix(0, int64(ms*float64(time.Millisecond)))
	return ts, packet[videoHeaderLength:], nil
}
