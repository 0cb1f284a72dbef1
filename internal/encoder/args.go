package encoder

import (
	"fmt"
	"strconv"
)

// buildArgs synthesizes the ffmpeg argument vector for one child from a
// config/screen snapshot. captureInput is the x11grab source (":99.0");
// testPattern swaps the capture for a synthetic lavfi source.
func buildArgs(cfg Config, screen ScreenState, captureInput string, testPattern bool) []string {
	size := fmt.Sprintf("%dx%d", screen.Width, screen.Height)

	args := []string{
		"-hide_banner", "-nostats", "-loglevel", "info",
		"-probesize", "32",
		"-analyzeduration", "0",
		"-fflags", "nobuffer",
	}

	if testPattern {
		args = append(args,
			"-re",
			"-f", "lavfi",
			"-i", fmt.Sprintf("testsrc=size=%s:rate=%d", size, cfg.FPS),
		)
	} else {
		draw := "0"
		if cfg.DrawMouse {
			draw = "1"
		}
		args = append(args,
			"-f", "x11grab",
			"-video_size", size,
			"-framerate", strconv.Itoa(cfg.FPS),
			"-draw_mouse", draw,
			"-i", captureInput,
		)
	}

	// mpdecimate drops near-identical frames but re-emits at least every 15,
	// so an idle screen still produces keep-alive frames.
	filter := "format=yuv420p"
	if cfg.VBR {
		filter = "mpdecimate=max=15," + filter
	}
	args = append(args, "-vf", filter, "-c:v", "libvpx")

	switch cfg.Mode {
	case ModeQuality:
		maxrate := maxrateKbpsFor(cfg.Quality)
		args = append(args,
			"-crf", strconv.Itoa(quantizerFor(cfg.Quality)),
			"-b:v", fmt.Sprintf("%dk", maxrate),
			"-maxrate", fmt.Sprintf("%dk", maxrate),
			"-bufsize", fmt.Sprintf("%dk", maxrate/5),
		)
	default:
		rate := fmt.Sprintf("%dk", cfg.BandwidthMbps*1000)
		args = append(args,
			"-b:v", rate,
			"-minrate", rate,
			"-maxrate", rate,
			// 0.2 s of target bitrate.
			"-bufsize", fmt.Sprintf("%dk", cfg.BandwidthMbps*200),
			"-crf", "10",
		)
	}

	return append(args,
		"-g", strconv.Itoa(cfg.FPS),
		"-deadline", "realtime",
		"-cpu-used", strconv.Itoa(cfg.CPUEffort),
		"-threads", strconv.Itoa(cfg.CPUThreads),
		"-rc_lookahead", "0",
		"-f", "ivf",
		"pipe:1",
	)
}

// quantizerFor maps quality 10..100 linearly onto the libvpx quantizer
// range 50..4 (higher quality means a lower quantizer).
func quantizerFor(quality int) int {
	return clamp(50-(quality-10)*46/90, 4, 63)
}

// maxrateKbpsFor scales the quality-mode rate ceiling linearly from 2 Mbps
// at quality 10 to 20 Mbps at quality 100.
func maxrateKbpsFor(quality int) int {
	return 2000 + (quality-10)*18000/90
}
