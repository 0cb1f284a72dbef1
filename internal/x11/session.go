// Package x11 owns the headless graphical session: a virtual framebuffer,
// the desktop environment on top of it, display resizes, and launching
// applications into the session.
package x11

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lucidesk/lucidesk/internal/logging"
)

var log = logging.L("x11")

const (
	// socketWait bounds how long Start polls for the X socket before
	// giving up on the framebuffer process.
	socketWait = 10 * time.Second

	// wmSettleDelay gives the desktop session time to bring up its own
	// daemons before we push settings at them.
	wmSettleDelay = 3 * time.Second
)

// Options configures the graphical session.
type Options struct {
	// DisplayNum is the bare display number, e.g. "99" for ":99".
	DisplayNum string

	// Width and Height set the initial framebuffer geometry, which must
	// match the capture geometry.
	Width  int
	Height int

	// Wallpaper is an optional image path applied after the desktop is up.
	Wallpaper string
}

// Session is the running graphical stack. Start brings it up, Stop tears
// it down; Resize and Spawn drive it while it runs.
type Session struct {
	opts    Options
	display string

	mu   sync.Mutex
	xvfb *exec.Cmd
	wm   *exec.Cmd

	done     chan struct{}
	stopOnce sync.Once
}

// NewSession prepares a session for the given display. Nothing is spawned
// until Start.
func NewSession(opts Options) *Session {
	return &Session{
		opts:    opts,
		display: ":" + opts.DisplayNum,
		done:    make(chan struct{}),
	}
}

// Display returns the X display string, e.g. ":99".
func (s *Session) Display() string {
	return s.display
}

// Start brings up the framebuffer, the desktop session, and the desktop
// settings. It blocks until the X server accepts connections and the
// window manager has had time to settle.
func (s *Session) Start() error {
	s.removeStaleFiles()

	geometry := fmt.Sprintf("%dx%dx24", s.opts.Width, s.opts.Height)
	log.Info("starting framebuffer", "display", s.display, "geometry", geometry)

	xvfb := exec.Command("Xvfb", s.display,
		"-screen", "0", geometry,
		"-nolisten", "tcp",
		"-ac",
		"+extension", "RANDR",
	)
	if err := s.startProcess("Xvfb", xvfb); err != nil {
		return err
	}
	s.mu.Lock()
	s.xvfb = xvfb
	s.mu.Unlock()

	if err := s.waitForSocket(); err != nil {
		s.Stop()
		return err
	}

	s.applyScreenSaverSettings()

	log.Info("starting desktop session", "display", s.display)
	wm := exec.Command("dbus-run-session", "xfce4-session")
	if err := s.startProcess("xfce4-session", wm); err != nil {
		s.Stop()
		return err
	}
	s.mu.Lock()
	s.wm = wm
	s.mu.Unlock()

	select {
	case <-time.After(wmSettleDelay):
	case <-s.done:
		return errors.New("session stopped during startup")
	}

	// The session manager re-enables blanking and compositing on login;
	// both are switched off again once it is up.
	s.applyScreenSaverSettings()
	s.runX("xfconf-query", "-c", "xfwm4", "-p", "/general/use_compositing", "-s", "false")

	s.applyWallpaper()

	return nil
}

// Stop kills the desktop and the framebuffer by process group and removes
// the display's lock and socket files.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		wm, xvfb := s.wm, s.xvfb
		s.wm, s.xvfb = nil, nil
		s.mu.Unlock()

		killGroup("xfce4-session", wm)
		killGroup("Xvfb", xvfb)
		s.removeStaleFiles()
		log.Info("graphical session stopped", "display", s.display)
	})
}

// Resize changes the output geometry. Dimensions are assumed to be
// clamped already; non-positive values are rejected here as a guard.
func (s *Session) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid resize %dx%d", width, height)
	}
	mode := fmt.Sprintf("%dx%d", width, height)

	// Prefer a registered mode switch; fall back to resizing the raw
	// framebuffer, which virtual displays accept for arbitrary sizes.
	if err := s.runX("xrandr", "-s", mode); err == nil {
		return nil
	}
	if err := s.runX("xrandr", "--fb", mode); err != nil {
		return fmt.Errorf("resize display to %s: %w", mode, err)
	}
	return nil
}

// Spawn launches an application inside the session and reaps it in the
// background. The caller has already vetted the command.
func (s *Session) Spawn(command string) error {
	cmd := exec.Command(command)
	cmd.Env = s.env()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", command, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug("spawned application exited", "command", command, logging.KeyError, err)
		}
	}()
	return nil
}

func (s *Session) startProcess(name string, cmd *exec.Cmd) error {
	cmd.Env = s.env()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe for %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	go logOutput(name, stderr)
	go func() {
		err := cmd.Wait()
		select {
		case <-s.done:
		default:
			log.Warn("session process exited", "process", name, logging.KeyError, err)
		}
	}()
	return nil
}

func (s *Session) waitForSocket() error {
	socket := socketPath(s.opts.DisplayNum)
	deadline := time.Now().Add(socketWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socket); err == nil {
			log.Debug("x server ready", "socket", socket)
			return nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-s.done:
			return errors.New("session stopped during startup")
		}
	}
	return fmt.Errorf("x server socket %s never appeared", socket)
}

// applyScreenSaverSettings disables blanking and power management, which
// would otherwise freeze the capture on an idle desktop.
func (s *Session) applyScreenSaverSettings() {
	s.runX("xset", "s", "off")
	s.runX("xset", "-dpms")
	s.runX("xset", "s", "noblank")
}

func (s *Session) runX(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Env = s.env()
	if err := cmd.Run(); err != nil {
		log.Debug("x command failed", "command", name, logging.KeyError, err)
		return err
	}
	return nil
}

func (s *Session) env() []string {
	return append(os.Environ(), "DISPLAY="+s.display)
}

func (s *Session) removeStaleFiles() {
	os.Remove(lockPath(s.opts.DisplayNum))
	os.Remove(socketPath(s.opts.DisplayNum))
}

func lockPath(displayNum string) string {
	return fmt.Sprintf("/tmp/.X%s-lock", displayNum)
}

func socketPath(displayNum string) string {
	return fmt.Sprintf("/tmp/.X11-unix/X%s", displayNum)
}

func killGroup(name string, cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
		log.Debug("kill process group failed", "process", name, logging.KeyError, err)
		cmd.Process.Kill()
	}
}

func logOutput(name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		log.Debug("session process output", "process", name, "line", scanner.Text())
	}
}
