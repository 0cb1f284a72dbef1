package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/lucidesk/lucidesk/internal/encoder"
	"github.com/lucidesk/lucidesk/internal/input"
	"github.com/lucidesk/lucidesk/internal/rtc"
	"github.com/lucidesk/lucidesk/internal/stream"
	"github.com/lucidesk/lucidesk/pkg/protocol"
)

type nullTrack struct{}

func (nullTrack) WriteSample(media.Sample) error { return nil }

type routeRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *routeRecorder) KeyEvent(keysym string, down bool) {
	r.record(fmt.Sprintf("key:%s:%v", keysym, down))
}

func (r *routeRecorder) MoveEvent(x, y int) {
	r.record(fmt.Sprintf("move:%d,%d", x, y))
}

func (r *routeRecorder) ButtonEvent(button int, down bool) {
	r.record(fmt.Sprintf("btn:%d:%v", button, down))
}

func (r *routeRecorder) record(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *routeRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeDesktop struct {
	mu      sync.Mutex
	resizes [][2]int
	spawns  []string
}

func (d *fakeDesktop) Resize(w, h int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resizes = append(d.resizes, [2]int{w, h})
	return nil
}

func (d *fakeDesktop) Spawn(command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spawns = append(d.spawns, command)
	return nil
}

func (d *fakeDesktop) resizeCalls() [][2]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][2]int(nil), d.resizes...)
}

func (d *fakeDesktop) spawnCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.spawns...)
}

type harness struct {
	hub     *Hub
	reg     *encoder.Registry
	bcast   *stream.Broadcaster
	disp    *routeRecorder
	desktop *fakeDesktop
	srv     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	reg := encoder.NewRegistry(30)
	metrics := stream.NewMetrics()
	pacer := stream.NewPacer(nullTrack{}, reg.FPS, metrics)
	bcast := stream.NewBroadcaster(pacer, metrics)
	bcast.Start()
	t.Cleanup(bcast.Stop)

	disp := &routeRecorder{}
	coal := input.NewCoalescer(disp, func() (int, int) {
		s := reg.Screen()
		return s.Width, s.Height
	})
	coal.Start()
	t.Cleanup(coal.Stop)

	engine, err := rtc.NewEngine(rtc.Options{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	desktop := &fakeDesktop{}
	hub := NewHub(Deps{
		Registry:  reg,
		Input:     coal,
		Broadcast: bcast,
		Engine:    engine,
		Desktop:   desktop,
	})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.StopAll)

	return &harness{hub: hub, reg: reg, bcast: bcast, disp: disp, desktop: desktop, srv: srv}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func awaitJSON(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %q: %v", wantType, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad json from server: %v", err)
		}
		if msg["type"] == wantType {
			return msg
		}
	}
	t.Fatalf("no %q message before deadline", wantType)
	return nil
}

func awaitBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for binary frame: %v", err)
		}
		if kind == websocket.BinaryMessage {
			return data
		}
	}
	t.Fatalf("no binary frame before deadline")
	return nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSession_PongEchoesTimestamp(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	ts := 123456.789
	sendJSON(t, conn, map[string]any{"type": "ping", "timestamp": ts})

	msg := awaitJSON(t, conn, "pong")
	got, ok := msg["timestamp"].(float64)
	if !ok {
		t.Fatalf("pong without numeric timestamp: %v", msg)
	}
	if got != ts {
		t.Fatalf("pong timestamp = %v, want %v", got, ts)
	}
}

func TestSession_BinaryFramesStopAfterReady(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	waitFor(t, func() bool { return h.bcast.ClientCount() == 1 }, "client never registered")

	payload := []byte{0x00, 0xaa, 0xbb, 0xcc}
	h.bcast.Publish(stream.Frame{Bytes: payload, CaptureTime: time.Now(), Epoch: 1})

	packet := awaitBinary(t, conn)
	_, got, err := protocol.DecodeVideoPacket(packet)
	if err != nil {
		t.Fatalf("DecodeVideoPacket: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %x, want %x", got, payload)
	}

	sendJSON(t, conn, map[string]any{"type": "webrtc_ready"})
	// The reader dispatches in order, so a pong proves the flag is set.
	sendJSON(t, conn, map[string]any{"type": "ping", "timestamp": 1.0})
	awaitJSON(t, conn, "pong")

	h.bcast.Publish(stream.Frame{Bytes: payload, CaptureTime: time.Now(), Epoch: 1})
	conn.SetReadDeadline(time.Now().Add(400 * time.Millisecond))
	if kind, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("got message kind %d after webrtc_ready, want silence", kind)
	}
}

func TestSession_ConfigAppliesOneBatch(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	sendJSON(t, conn, map[string]any{"type": "config", "framerate": 15, "bandwidth": 3})

	waitFor(t, func() bool {
		cfg, _ := h.reg.Snapshot()
		return cfg.FPS == 15 && cfg.Mode == encoder.ModeBandwidth && cfg.BandwidthMbps == 3
	}, "registry did not absorb the config batch")

	select {
	case <-h.reg.Restart():
	case <-time.After(2 * time.Second):
		t.Fatal("no restart signal after config change")
	}
	select {
	case <-h.reg.Restart():
		t.Fatal("one config batch produced a second restart signal")
	default:
	}
}

func TestSession_ResizeClampsAndRestartsOnce(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	sendJSON(t, conn, map[string]any{"type": "resize", "width": 10, "height": 10})
	waitFor(t, func() bool {
		s := h.reg.Screen()
		return s.Width == 320 && s.Height == 240
	}, "resize not clamped to the minimum")

	select {
	case <-h.reg.Restart():
	case <-time.After(2 * time.Second):
		t.Fatal("no restart signal after resize")
	}
	if got := h.desktop.resizeCalls(); len(got) != 1 || got[0] != [2]int{320, 240} {
		t.Fatalf("display resize calls = %v, want one 320x240", got)
	}

	// Same dimensions again: no display call, no restart.
	sendJSON(t, conn, map[string]any{"type": "resize", "width": 10, "height": 10})
	sendJSON(t, conn, map[string]any{"type": "ping", "timestamp": 2.0})
	awaitJSON(t, conn, "pong")

	if got := h.desktop.resizeCalls(); len(got) != 1 {
		t.Fatalf("no-op resize reached the display: %v", got)
	}
	select {
	case <-h.reg.Restart():
		t.Fatal("no-op resize scheduled a restart")
	default:
	}
}

func TestSession_SpawnHonorsAllowList(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	sendJSON(t, conn, map[string]any{"type": "spawn", "command": "xclock"})
	sendJSON(t, conn, map[string]any{"type": "spawn", "command": "rm -rf /"})
	sendJSON(t, conn, map[string]any{"type": "spawn", "command": "firefox"})
	sendJSON(t, conn, map[string]any{"type": "ping", "timestamp": 3.0})
	awaitJSON(t, conn, "pong")

	if got := h.desktop.spawnCalls(); len(got) != 1 || got[0] != "xclock" {
		t.Fatalf("spawned %v, want [xclock]", got)
	}
}

func TestSession_InputReachesDispatcher(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	sendJSON(t, conn, map[string]any{"type": "keydown", "key": "a"})
	sendJSON(t, conn, map[string]any{"type": "mousedown", "button": 0})
	sendJSON(t, conn, map[string]any{"type": "mousemove", "x": 0.5, "y": 0.5})

	waitFor(t, func() bool { return len(h.disp.snapshot()) >= 3 }, "input events never arrived")

	want := []string{"key:a:true", "btn:1:true", "move:640,360"}
	got := h.disp.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSession_MalformedMessagesSkipped(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Wrong type for a coordinate fails the whole unmarshal; the session
	// must survive it.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mousemove","x":"left","y":0.5}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	sendJSON(t, conn, map[string]any{"type": "ping", "timestamp": 4.0})
	awaitJSON(t, conn, "pong")

	if got := h.disp.snapshot(); len(got) != 0 {
		t.Fatalf("malformed input produced events: %v", got)
	}
}

func TestSession_BadOfferKeepsSessionAlive(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	// Candidate before any offer: silently ignored.
	sendJSON(t, conn, map[string]any{
		"type":      "webrtc_ice",
		"candidate": map[string]any{"candidate": "candidate:1 1 udp 1 127.0.0.1 40000 typ host"},
	})
	sendJSON(t, conn, map[string]any{
		"type": "webrtc_offer",
		"sdp":  map[string]any{"type": "offer", "sdp": "garbage"},
	})
	sendJSON(t, conn, map[string]any{"type": "ping", "timestamp": 5.0})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if !time.Now().Before(deadline) {
			t.Fatal("no pong before deadline")
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad json from server: %v", err)
		}
		if msg["type"] == "webrtc_answer" {
			t.Fatal("garbage offer produced an answer")
		}
		if msg["type"] == "pong" {
			break
		}
	}
}
