package ws

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/lucidesk/lucidesk/internal/encoder"
	"github.com/lucidesk/lucidesk/internal/input"
	"github.com/lucidesk/lucidesk/internal/logging"
	"github.com/lucidesk/lucidesk/internal/rtc"
	"github.com/lucidesk/lucidesk/internal/stream"
	"github.com/lucidesk/lucidesk/pkg/protocol"
)

// DesktopController is the slice of the X11 session the router drives:
// resizing the output and launching allow-listed applications.
type DesktopController interface {
	Resize(width, height int) error
	Spawn(command string) error
}

// Deps are the server components a session routes messages into. Desktop
// is nil when the capture source is the synthetic test pattern; the router
// then skips display resizes and application launches but still updates
// the registry.
type Deps struct {
	Registry  *encoder.Registry
	Input     *input.Coalescer
	Broadcast *stream.Broadcaster
	Engine    *rtc.Engine
	Desktop   DesktopController

	// PublicIP overrides the ICE host address derived from the request.
	PublicIP string
}

// spawnAllowed is the fixed set of applications a viewer may launch.
// Anything else is dropped without a reply.
var spawnAllowed = map[string]struct{}{
	"gnome-calculator": {},
	"weston-terminal":  {},
	"gedit":            {},
	"mousepad":         {},
	"xclock":           {},
	"xeyes":            {},
	"xfce4-terminal":   {},
}

// Session is one viewer connection: a single reader goroutine that owns
// the router and, through it, the session's peer connection.
type Session struct {
	client       *Client
	deps         Deps
	remoteAddr   string
	advertisedIP string
	started      time.Time

	// peer is only touched by the reader goroutine and by teardown,
	// which runs on the same goroutine after the read loop exits.
	peer *rtc.Peer
}

func newSession(client *Client, deps Deps, remoteAddr, requestHost string) *Session {
	return &Session{
		client:       client,
		deps:         deps,
		remoteAddr:   remoteAddr,
		advertisedIP: rtc.AdvertisedIP(deps.PublicIP, requestHost),
		started:      time.Now(),
	}
}

// run reads and dispatches messages until the connection drops, then tears
// the session down. It blocks the caller for the connection's lifetime.
func (s *Session) run() {
	defer s.teardown()

	log.Info("viewer connected", logging.KeyRemoteAddr, s.remoteAddr)
	s.deps.Broadcast.Register(s.client)

	for {
		data, err := s.client.readMessage()
		if err != nil {
			break
		}
		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypePing:
		if msg.Timestamp != nil {
			if err := s.client.sendPong(*msg.Timestamp); err != nil {
				log.Debug("pong write failed", logging.KeyError, err)
			}
		}

	case protocol.TypeKeyDown, protocol.TypeKeyUp:
		if msg.Key != nil {
			s.deps.Input.SubmitKey(*msg.Key, msg.Type == protocol.TypeKeyDown)
		}

	case protocol.TypeMouseMove:
		if msg.X != nil && msg.Y != nil {
			s.deps.Input.SubmitMove(*msg.X, *msg.Y)
		}

	case protocol.TypeMouseDown, protocol.TypeMouseUp:
		if msg.Button != nil {
			s.deps.Input.SubmitButton(*msg.Button, msg.Type == protocol.TypeMouseDown)
		}

	case protocol.TypeSpawn:
		if msg.Command != nil {
			s.handleSpawn(*msg.Command)
		}

	case protocol.TypeConfig:
		s.handleConfig(msg)

	case protocol.TypeResize:
		if msg.Width != nil && msg.Height != nil {
			s.handleResize(*msg.Width, *msg.Height)
		}

	case protocol.TypeWebRTCOffer:
		s.handleOffer(msg.SDP)

	case protocol.TypeWebRTCICE:
		s.handleCandidate(msg.Candidate)

	case protocol.TypeWebRTCReady:
		s.client.SetWebRTCReady()
		log.Info("viewer switched to webrtc", logging.KeyRemoteAddr, s.remoteAddr)

	default:
		log.Debug("unknown message type", "type", msg.Type)
	}
}

func (s *Session) handleSpawn(command string) {
	if _, ok := spawnAllowed[command]; !ok {
		log.Debug("spawn rejected", "command", command)
		return
	}
	if s.deps.Desktop == nil {
		return
	}
	if err := s.deps.Desktop.Spawn(command); err != nil {
		log.Warn("spawn failed", "command", command, logging.KeyError, err)
		return
	}
	log.Info("application launched", "command", command)
}

// handleConfig applies every recognized field from one message as a single
// registry batch. The registry orders framerate before the rate-control
// fields and collapses the outcome into at most one restart signal.
func (s *Session) handleConfig(msg protocol.ClientMessage) {
	changed := s.deps.Registry.Apply(encoder.Update{
		BandwidthMbps: msg.Bandwidth,
		Quality:       msg.Quality,
		FPS:           msg.Framerate,
		VBR:           msg.VBR,
		CPUEffort:     msg.CPUEffort,
		CPUThreads:    msg.CPUThreads,
		DrawMouse:     msg.DrawMouse,
	})
	log.Debug("config message applied", "changed", changed)
}

func (s *Session) handleResize(width, height int) {
	w, h, changed := s.deps.Registry.SetScreenSize(width, height)
	if !changed {
		return
	}
	log.Info("screen resized", "width", w, "height", h)
	if s.deps.Desktop != nil {
		if err := s.deps.Desktop.Resize(w, h); err != nil {
			log.Warn("display resize failed", logging.KeyError, err)
		}
	}
	s.deps.Registry.RequestRestart()
}

func (s *Session) handleOffer(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		log.Warn("malformed offer", logging.KeyError, err)
		return
	}

	// A renegotiating viewer replaces its previous peer connection.
	if s.peer != nil {
		s.peer.Close()
		s.peer = nil
	}

	peer, err := s.deps.Engine.HandleOffer(offer, s.advertisedIP, s.client)
	if err != nil {
		log.Warn("webrtc negotiation failed", logging.KeyRemoteAddr, s.remoteAddr, logging.KeyError, err)
		return
	}
	s.peer = peer
}

func (s *Session) handleCandidate(raw json.RawMessage) {
	if s.peer == nil || len(raw) == 0 {
		return
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		log.Warn("malformed ice candidate", logging.KeyError, err)
		return
	}
	if err := s.peer.AddCandidate(candidate); err != nil {
		log.Warn("ice candidate rejected", logging.KeyError, err)
	}
}

// stop force-closes the connection, which unblocks the reader and lets
// teardown run on its goroutine.
func (s *Session) stop() {
	s.client.close()
}

func (s *Session) teardown() {
	s.deps.Broadcast.Unregister(s.client)
	if s.peer != nil {
		s.peer.Close()
		s.peer = nil
	}
	s.client.close()
	log.Info("viewer disconnected",
		logging.KeyRemoteAddr, s.remoteAddr,
		logging.KeyDurationMs, time.Since(s.started).Milliseconds(),
	)
}
