package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/lucidesk/lucidesk/internal/logging"
)

// SignalSender delivers server→client signaling on the JSON channel. The
// WebSocket session implements it.
type SignalSender interface {
	SendAnswer(sdp webrtc.SessionDescription) error
	SendCandidate(candidate webrtc.ICECandidateInit) error
}

// Peer is one client's negotiated peer connection, subscribed to the
// shared track.
type Peer struct {
	pc        *webrtc.PeerConnection
	closeOnce sync.Once
}

// HandleOffer negotiates one inbound offer: it builds a peer connection
// advertising advertisedIP, attaches the shared track sendonly, strips
// receiver-driven rate control from the offer, and returns after the
// answer has been sent. Local candidates trickle through send as ICE
// gathering progresses.
func (e *Engine) HandleOffer(offer webrtc.SessionDescription, advertisedIP string, send SignalSender) (*Peer, error) {
	api, err := e.newAPI(advertisedIP)
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(e.configuration())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	transceiver, err := pc.AddTransceiverFromTrack(e.track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add video track: %w", err)
	}
	go drainRTCP(transceiver.Sender())

	// Handlers must be in place before SetLocalDescription starts gathering.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := send.SendCandidate(c.ToJSON()); err != nil {
			log.Debug("candidate not delivered", logging.KeyError, err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("peer connection state", "state", state.String())
	})

	// Rate control stays server-driven through the config channel; stripping
	// the feedback from the offer keeps it out of the negotiated answer.
	offer.SDP = stripReceiverRateControl(offer.SDP)

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	if err := send.SendAnswer(*pc.LocalDescription()); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("send answer: %w", err)
	}
	return &Peer{pc: pc}, nil
}

// AddCandidate applies one remote ICE candidate.
func (p *Peer) AddCandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// Close tears the peer connection down. Safe to call more than once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		if err := p.pc.Close(); err != nil {
			log.Debug("peer close", logging.KeyError, err)
		}
	})
}

// drainRTCP keeps reading inbound RTCP; the interceptors only run on read.
// PLI/FIR is counted and logged, not acted on: the 1 s GOP already bounds
// loss recovery.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	var requests uint64
	var lastLog time.Time

	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, p := range packets {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				requests++
				if time.Since(lastLog) >= 500*time.Millisecond {
					lastLog = time.Now()
					log.Debug("keyframe requested by receiver", "count", requests)
				}
			}
		}
	}
}
