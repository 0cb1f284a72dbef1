// Package ws owns the control channel: one WebSocket session per viewer,
// a JSON message router, and the per-client binary video sink the fan-out
// falls back to until WebRTC is up.
package ws

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/lucidesk/lucidesk/internal/logging"
	"github.com/lucidesk/lucidesk/pkg/protocol"
)

var log = logging.L("ws")

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024

	// frameQueueCap bounds the per-client binary sink. The fan-out drops
	// the newest packet when the queue is full rather than stalling the
	// pipeline on one slow viewer.
	frameQueueCap = 300
)

// Client is the write side of one viewer connection. A gorilla connection
// permits a single concurrent writer, so JSON replies and the binary frame
// worker serialize through writeMu.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	frames    chan []byte
	ready     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:   conn,
		frames: make(chan []byte, frameQueueCap),
		done:   make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	c.wg.Add(1)
	go c.writeFrames()
	return c
}

// WebRTCReady reports whether the viewer asked to stop fallback delivery.
func (c *Client) WebRTCReady() bool {
	return c.ready.Load()
}

// SetWebRTCReady marks the viewer as receiving video over its peer
// connection. Binary frames are no longer queued after this.
func (c *Client) SetWebRTCReady() {
	c.ready.Store(true)
}

// EnqueueFrame hands a framed video packet to the binary worker. It never
// blocks: a full queue drops the packet and reports false. The packet is
// shared across clients and must not be mutated.
func (c *Client) EnqueueFrame(packet []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.frames <- packet:
		return true
	default:
		return false
	}
}

func (c *Client) writeFrames() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case packet := <-c.frames:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.BinaryMessage, packet)
			c.writeMu.Unlock()
			if err != nil {
				log.Debug("binary write failed", logging.KeyError, err)
				return
			}
		}
	}
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *Client) sendPong(timestamp float64) error {
	return c.writeJSON(protocol.ServerMessage{
		Type:      protocol.TypePong,
		Timestamp: &timestamp,
	})
}

// SendAnswer delivers the SDP answer on the JSON channel.
func (c *Client) SendAnswer(answer webrtc.SessionDescription) error {
	return c.writeJSON(protocol.ServerMessage{
		Type: protocol.TypeWebRTCAnswer,
		SDP:  answer,
	})
}

// SendCandidate trickles one local ICE candidate to the viewer.
func (c *Client) SendCandidate(candidate webrtc.ICECandidateInit) error {
	return c.writeJSON(protocol.ServerMessage{
		Type:      protocol.TypeWebRTCICE,
		Candidate: candidate,
	})
}

func (c *Client) readMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// close tears the connection down and waits for the binary worker. Safe to
// call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.wg.Wait()
	})
}
