// Package rtc owns the WebRTC leg: the process-wide VP8 sample track every
// peer subscribes to, and the per-client peer connections negotiated over
// the WebSocket control channel.
package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/lucidesk/lucidesk/internal/logging"
)

var log = logging.L("rtc")

// Options fix the engine's deployment shape at startup.
type Options struct {
	// UDPPort pins ICE to a single UDP port, matching the HTTP port in the
	// one-port deployment. 0 leaves the ephemeral range alone.
	UDPPort int
	// PublicIP overrides the advertised host candidate address for every
	// connection. Empty falls back to resolving each request's Host header.
	PublicIP string
	// STUNServer is the lone STUN URL handed to every peer connection.
	STUNServer string
}

// Engine builds peer connections around one shared outbound video track.
// The track is created once at startup; failure to create it is fatal to
// the process.
type Engine struct {
	opts  Options
	track *webrtc.TrackLocalStaticSample
}

func NewEngine(opts Options) (*Engine, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "lucidesk",
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return &Engine{opts: opts, track: track}, nil
}

// Track is the shared sample track the pacing writer feeds.
func (e *Engine) Track() *webrtc.TrackLocalStaticSample {
	return e.track
}

// newAPI assembles an API handle for one peer connection. pion bakes the
// advertised NAT mapping into the SettingEngine, and the advertised address
// can differ per connection, so each peer gets its own API.
func (e *Engine) newAPI(advertisedIP string) (*webrtc.API, error) {
	// VP8 only; the shared track's codec is fixed by the encoder child.
	mediaEngine := &webrtc.MediaEngine{}
	err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo)
	if err != nil {
		return nil, fmt.Errorf("register vp8: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{}
	if e.opts.UDPPort > 0 {
		port := uint16(e.opts.UDPPort)
		if err := settings.SetEphemeralUDPPortRange(port, port); err != nil {
			return nil, fmt.Errorf("pin udp port %d: %w", e.opts.UDPPort, err)
		}
	}
	if advertisedIP != "" {
		settings.SetNAT1To1IPs([]string{advertisedIP}, webrtc.ICECandidateTypeHost)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	), nil
}

func (e *Engine) configuration() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if e.opts.STUNServer != "" {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{e.opts.STUNServer}}}
	}
	return cfg
}
