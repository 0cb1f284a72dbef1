package encoder

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lucidesk/lucidesk/internal/logging"
	"github.com/lucidesk/lucidesk/internal/stream"
)

var log = logging.L("encoder")

// How long a child gets to honor SIGTERM before the process group is
// SIGKILLed, and the minimum spacing between spawns so a crash-looping
// child cannot busy-spin the host.
const (
	killGrace    = 3 * time.Second
	spawnSpacing = time.Second
)

// Options are the supervisor knobs fixed at bootstrap.
type Options struct {
	BinPath      string // encoder binary, e.g. /app/bin/ffmpeg
	CaptureInput string // x11grab source, e.g. ":99.0"
	TestPattern  bool   // synthetic lavfi source instead of capture
}

// Supervisor runs the encoder child. Each iteration drains any pending
// restart signal, snapshots the registry, bumps the stream epoch, spawns
// the child, and de-muxes its stdout inline until EOF. Tying the next
// spawn to de-mux EOF is what keeps the live child count at one.
type Supervisor struct {
	reg  *Registry
	opts Options
	emit func(stream.Frame)

	mu        sync.Mutex
	epoch     uint32
	shouldRun bool
	child     *exec.Cmd

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewSupervisor(reg *Registry, opts Options, emit func(stream.Frame)) *Supervisor {
	return &Supervisor{
		reg:       reg,
		opts:      opts,
		emit:      emit,
		shouldRun: true,
		done:      make(chan struct{}),
	}
}

// Start launches the supervision loop.
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run()
		}()
	})
}

// Stop terminates the current child and ends the loop, blocking until it
// has exited. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shouldRun = false
		s.mu.Unlock()
		close(s.done)
	})
	s.wg.Wait()
}

// ChildPID returns the pid of the live child, or 0 when none is running.
func (s *Supervisor) ChildPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child != nil && s.child.Process != nil {
		return s.child.Process.Pid
	}
	return 0
}

// Epoch returns the current stream epoch.
func (s *Supervisor) Epoch() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *Supervisor) run() {
	for s.running() {
		// Drain before snapshotting, never after: a signal for a write
		// that lands between the two shows up as one redundant restart,
		// whereas the reverse order could drop an update entirely.
		select {
		case <-s.reg.Restart():
		default:
		}

		cfg, screen := s.reg.Snapshot()
		epoch := s.nextEpoch()
		started := time.Now()

		if err := s.runChild(cfg, screen, epoch); err != nil {
			log.Error("encoder run failed", logging.KeyError, err, logging.KeyEpoch, epoch)
		}
		if !s.running() {
			return
		}

		if wait := spawnSpacing - time.Since(started); wait > 0 {
			select {
			case <-time.After(wait):
			case <-s.done:
				return
			}
		}
	}
}

// runChild spawns one encoder instance and blocks until its stdout has
// drained and the process has been reaped.
func (s *Supervisor) runChild(cfg Config, screen ScreenState, epoch uint32) error {
	args := buildArgs(cfg, screen, s.opts.CaptureInput, s.opts.TestPattern)
	cmd := exec.Command(s.opts.BinPath, args...)
	// Own process group, so killing -pgid reaches any helpers it forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	log.Info("starting encoder",
		logging.KeyEpoch, epoch,
		"mode", cfg.Mode.String(),
		"fps", cfg.FPS,
		"size", fmt.Sprintf("%dx%d", screen.Width, screen.Height),
		"vbr", cfg.VBR)
	log.Debug("encoder argv", "bin", s.opts.BinPath, "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.opts.BinPath, err)
	}

	s.mu.Lock()
	s.child = cmd
	s.mu.Unlock()

	exited := make(chan struct{})
	go s.watchChild(cmd, exited)
	go logStderr(stderr, epoch)

	if err := demuxIVF(stdout, epoch, s.emit); err != nil {
		log.Warn("demux ended", logging.KeyError, err, logging.KeyEpoch, epoch)
	}

	err = cmd.Wait()
	close(exited)

	s.mu.Lock()
	s.child = nil
	s.mu.Unlock()

	if err != nil {
		log.Info("encoder exited", logging.KeyError, err, logging.KeyEpoch, epoch)
	} else {
		log.Info("encoder exited", logging.KeyEpoch, epoch)
	}
	return nil
}

// watchChild terminates the child when a restart is requested or the
// supervisor stops, and returns as soon as the child has exited on its
// own. Termination closes the child's stdout, which unwinds the de-muxer
// and lets the loop continue.
func (s *Supervisor) watchChild(cmd *exec.Cmd, exited <-chan struct{}) {
	select {
	case <-exited:
		return
	case <-s.reg.Restart():
		log.Info("restart requested, stopping encoder")
	case <-s.done:
	}
	terminate(cmd, exited)
}

// terminate sends SIGTERM to the child's process group and escalates to
// SIGKILL if it has not exited within the grace period.
func terminate(cmd *exec.Cmd, exited <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	_ = unix.Kill(-pgid, unix.SIGTERM)
	select {
	case <-exited:
	case <-time.After(killGrace):
		log.Warn("encoder ignored SIGTERM, killing process group", "pgid", pgid)
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
}

func (s *Supervisor) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldRun
}

func (s *Supervisor) nextEpoch() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	return s.epoch
}

// logStderr forwards the child's diagnostics line by line.
func logStderr(r io.Reader, epoch uint32) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		log.Debug("encoder output", "line", sc.Text(), logging.KeyEpoch, epoch)
	}
}
