// Package encoder owns the external video encoder child: the runtime
// configuration clients mutate, the argument vector synthesized from it,
// the supervision loop that restarts the child, and the de-muxer that
// turns its stdout into frames.
package encoder

import "sync"

// Mode selects the encoder's rate-control strategy.
type Mode int

const (
	// ModeBandwidth drives the encoder toward a fixed target bitrate.
	ModeBandwidth Mode = iota
	// ModeQuality fixes a quantizer and derives a rate ceiling from it.
	ModeQuality
)

func (m Mode) String() string {
	if m == ModeQuality {
		return "quality"
	}
	return "bandwidth"
}

// Geometry bounds enforced on every resize. The maximum matches the
// largest framebuffer the virtual display is created with.
const (
	MinWidth  = 320
	MinHeight = 240
	MaxWidth  = 3840
	MaxHeight = 2160
)

// Config is the encoder tuning state mutated by client config messages.
// The supervisor reads a snapshot of it when composing the next child's
// argument vector.
type Config struct {
	Mode          Mode
	BandwidthMbps int  // target bitrate, ModeBandwidth
	Quality       int  // 10..100, ModeQuality
	FPS           int  // capture rate and GOP length
	VBR           bool // elide near-duplicate frames upstream of the encoder
	CPUEffort     int  // libvpx cpu-used, 0..8
	CPUThreads    int
	DrawMouse     bool // include the hardware cursor in capture
}

// ScreenState is the current output geometry.
type ScreenState struct {
	Width  int
	Height int
}

// Update carries any subset of Config fields; nil leaves a field
// unchanged. Out-of-range values are ignored rather than clamped, so a
// malformed message cannot move the config. Sending Quality switches the
// mode to quality; sending BandwidthMbps switches it back.
type Update struct {
	BandwidthMbps *int
	Quality       *int
	FPS           *int
	VBR           *bool
	CPUEffort     *int
	CPUThreads    *int
	DrawMouse     *bool
}

// Registry holds Config and ScreenState under one mutex and owns the
// restart signal the supervisor consumes. Writers never block: the signal
// channel has capacity one and repeated signals coalesce.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	screen   ScreenState
	restartC chan struct{}
}

// NewRegistry returns a registry with the built-in defaults and the given
// initial framerate (out-of-range values fall back to 30).
func NewRegistry(fps int) *Registry {
	if fps < 1 || fps > 120 {
		fps = 30
	}
	return &Registry{
		cfg: Config{
			Mode:          ModeBandwidth,
			BandwidthMbps: 5,
			Quality:       80,
			FPS:           fps,
			CPUEffort:     6,
			CPUThreads:    4,
			DrawMouse:     true,
		},
		screen:   ScreenState{Width: 1280, Height: 720},
		restartC: make(chan struct{}, 1),
	}
}

// Apply merges u into the config under one lock section, framerate before
// the rate-control fields, and schedules exactly one restart iff any field
// actually changed. It reports whether it did.
func (r *Registry) Apply(u Update) bool {
	r.mu.Lock()
	changed := mergeInt(&r.cfg.FPS, u.FPS, 1, 120)
	changed = mergeBool(&r.cfg.VBR, u.VBR) || changed
	changed = mergeInt(&r.cfg.CPUEffort, u.CPUEffort, 0, 8) || changed
	changed = mergeInt(&r.cfg.CPUThreads, u.CPUThreads, 1, 16) || changed
	changed = mergeBool(&r.cfg.DrawMouse, u.DrawMouse) || changed

	if u.Quality != nil && *u.Quality >= 10 && *u.Quality <= 100 {
		if r.cfg.Mode != ModeQuality || r.cfg.Quality != *u.Quality {
			r.cfg.Mode = ModeQuality
			r.cfg.Quality = *u.Quality
			changed = true
		}
	}
	// Applied after quality: a message carrying both lands in bandwidth
	// mode, the server's default strategy.
	if u.BandwidthMbps != nil && *u.BandwidthMbps >= 1 && *u.BandwidthMbps <= 50 {
		if r.cfg.Mode != ModeBandwidth || r.cfg.BandwidthMbps != *u.BandwidthMbps {
			r.cfg.Mode = ModeBandwidth
			r.cfg.BandwidthMbps = *u.BandwidthMbps
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		r.RequestRestart()
	}
	return changed
}

// SetScreenSize clamps (w,h) to the allowed bounds and stores the result.
// It returns the stored size and whether it differs from the previous one.
// Non-positive input is rejected outright and reports the current size.
// The caller decides whether a change warrants a restart; this method never
// signals one.
func (r *Registry) SetScreenSize(w, h int) (int, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w <= 0 || h <= 0 {
		return r.screen.Width, r.screen.Height, false
	}
	w = clamp(w, MinWidth, MaxWidth)
	h = clamp(h, MinHeight, MaxHeight)

	changed := w != r.screen.Width || h != r.screen.Height
	if changed {
		r.screen = ScreenState{Width: w, Height: h}
	}
	return w, h, changed
}

// Snapshot returns a consistent copy of config and screen state. The
// supervisor composes each child's argument vector from one snapshot.
func (r *Registry) Snapshot() (Config, ScreenState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, r.screen
}

// Screen returns the current output geometry.
func (r *Registry) Screen() ScreenState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.screen
}

// FPS returns the current capture framerate.
func (r *Registry) FPS() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.FPS
}

// RequestRestart schedules an encoder restart. If one is already pending
// the call is a no-op, so a burst of writes costs at most one extra
// restart beyond the one in flight.
func (r *Registry) RequestRestart() {
	select {
	case r.restartC <- struct{}{}:
	default:
	}
}

// Restart is the signal channel the supervisor selects on.
func (r *Registry) Restart() <-chan struct{} {
	return r.restartC
}

func mergeInt(dst, v *int, lo, hi int) bool {
	if v == nil || *v < lo || *v > hi || *v == *dst {
		return false
	}
	*dst = *v
	return true
}

func mergeBool(dst, v *bool) bool {
	if v == nil || *v == *dst {
		return false
	}
	*dst = *v
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
