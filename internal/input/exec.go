package input

import (
	"os"
	"os/exec"
	"strconv"

	"github.com/lucidesk/lucidesk/internal/logging"
)

// XdoDispatcher injects events by spawning xdotool against the session
// display. Spawns are fire-and-forget: a start error is logged, never
// propagated, and a reaper goroutine prevents zombies.
type XdoDispatcher struct {
	display string
	binPath string
}

// NewXdoDispatcher targets the given X display, e.g. ":99".
func NewXdoDispatcher(display string) *XdoDispatcher {
	return &XdoDispatcher{display: display, binPath: "xdotool"}
}

func (d *XdoDispatcher) KeyEvent(keysym string, down bool) {
	mode := "keyup"
	if down {
		mode = "keydown"
	}
	d.spawn(mode, keysym)
}

func (d *XdoDispatcher) MoveEvent(x, y int) {
	d.spawn("mousemove", strconv.Itoa(x), strconv.Itoa(y))
}

func (d *XdoDispatcher) ButtonEvent(button int, down bool) {
	mode := "mouseup"
	if down {
		mode = "mousedown"
	}
	d.spawn(mode, strconv.Itoa(button))
}

func (d *XdoDispatcher) spawn(args ...string) {
	cmd := exec.Command(d.binPath, args...)
	cmd.Env = append(os.Environ(), "DISPLAY="+d.display)
	if err := cmd.Start(); err != nil {
		log.Warn("input injection failed", "args", args, logging.KeyError, err)
		return
	}
	go func() { _ = cmd.Wait() }()
}
