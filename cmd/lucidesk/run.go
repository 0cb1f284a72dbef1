package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucidesk/lucidesk/internal/config"
	"github.com/lucidesk/lucidesk/internal/encoder"
	"github.com/lucidesk/lucidesk/internal/input"
	"github.com/lucidesk/lucidesk/internal/lifecycle"
	"github.com/lucidesk/lucidesk/internal/logging"
	"github.com/lucidesk/lucidesk/internal/rtc"
	"github.com/lucidesk/lucidesk/internal/stream"
	"github.com/lucidesk/lucidesk/internal/sysmon"
	"github.com/lucidesk/lucidesk/internal/web"
	"github.com/lucidesk/lucidesk/internal/ws"
	"github.com/lucidesk/lucidesk/internal/x11"
)

func runServer(cmd *cobra.Command) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logFile := initLogging(cfg)
	log := logging.L("main")
	log.Info("starting lucidesk",
		"version", version,
		"port", cfg.Port,
		"fps", cfg.FPS,
		"display", cfg.Display(),
		"testPattern", cfg.TestPatternEnabled(),
	)

	stack := lifecycle.NewStack()
	fail := func(msg string, err error) {
		log.Error(msg, logging.KeyError, err)
		stack.Shutdown()
		os.Exit(1)
	}
	if logFile != nil {
		// Registered first so it closes last, after every component has
		// logged its shutdown.
		stack.Register("log file", func() { logFile.Close() })
	}

	reg := encoder.NewRegistry(cfg.FPS)

	var desktop *x11.Session
	if !cfg.TestPatternEnabled() {
		screen := reg.Screen()
		desktop = x11.NewSession(x11.Options{
			DisplayNum: cfg.DisplayNum,
			Width:      screen.Width,
			Height:     screen.Height,
			Wallpaper:  cfg.Wallpaper,
		})
		if err := desktop.Start(); err != nil {
			fail("graphical session failed to start", err)
		}
		stack.Register("x11 session", desktop.Stop)
	} else {
		log.Info("test pattern mode, skipping graphical session")
	}

	engine, err := rtc.NewEngine(rtc.Options{
		PublicIP:   cfg.PublicIP,
		STUNServer: cfg.STUNServer,
	})
	if err != nil {
		fail("webrtc engine failed to initialize", err)
	}

	metrics := stream.NewMetrics()
	pacer := stream.NewPacer(engine.Track(), reg.FPS, metrics)
	broadcast := stream.NewBroadcaster(pacer, metrics)
	broadcast.Start()
	stack.Register("stream fan-out", broadcast.Stop)

	supervisor := encoder.NewSupervisor(reg, encoder.Options{
		BinPath:      cfg.EncoderPath,
		CaptureInput: cfg.CaptureInput(),
		TestPattern:  cfg.TestPatternEnabled(),
	}, broadcast.Publish)
	supervisor.Start()
	stack.Register("encoder supervisor", supervisor.Stop)

	coalescer := input.NewCoalescer(
		input.NewXdoDispatcher(cfg.Display()),
		func() (int, int) {
			s := reg.Screen()
			return s.Width, s.Height
		},
	)
	coalescer.Start()
	stack.Register("input coalescer", coalescer.Stop)

	monitor := sysmon.NewMonitor(0, supervisor.ChildPID)
	monitor.Start()
	stack.Register("resource monitor", monitor.Stop)

	deps := ws.Deps{
		Registry:  reg,
		Input:     coalescer,
		Broadcast: broadcast,
		Engine:    engine,
		PublicIP:  cfg.PublicIP,
	}
	if desktop != nil {
		deps.Desktop = desktop
	}
	hub := ws.NewHub(deps)
	stack.Register("viewer sessions", hub.StopAll)

	front := web.NewServer(web.Options{
		Addr:       fmt.Sprintf(":%d", cfg.Port),
		PublicDir:  cfg.PublicDir,
		MaxClients: cfg.MaxClients,
	}, hub)
	if err := front.Start(); err != nil {
		fail("http front failed to start", err)
	}
	stack.Register("http front", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		front.Stop(ctx)
	})

	log.Info("ready", "addr", front.Addr().String())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigs
		if sig == syscall.SIGHUP {
			// logrotate contract: reopen the file it moved aside.
			if logFile != nil {
				if err := logFile.Reopen(); err != nil {
					log.Warn("log reopen failed", logging.KeyError, err)
				} else {
					log.Info("log file reopened")
				}
			}
			continue
		}
		log.Info("shutting down", "signal", sig.String())
		break
	}
	stack.Shutdown()
}

// initLogging configures the process logger and returns the rotating file
// writer when one is in use, nil otherwise.
func initLogging(cfg *config.Settings) *logging.RotatingWriter {
	var out io.Writer
	var rw *logging.RotatingWriter
	if cfg.LogFile != "" {
		var err error
		rw, err = logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Log file unavailable, using stdout: %v\n", err)
			rw = nil
		} else {
			out = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	return rw
}

// applyFlagOverrides layers explicit command-line flags over the loaded
// settings. Only flags the user actually set are applied.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Settings) {
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Port, _ = f.GetInt("port")
	}
	if f.Changed("fps") {
		cfg.FPS, _ = f.GetInt("fps")
	}
	if f.Changed("display-num") {
		cfg.DisplayNum, _ = f.GetString("display-num")
	}
	if f.Changed("public-ip") {
		cfg.PublicIP, _ = f.GetString("public-ip")
	}
	if f.Changed("test-pattern") {
		cfg.TestPattern, _ = f.GetString("test-pattern")
	}
	if f.Changed("public-dir") {
		cfg.PublicDir, _ = f.GetString("public-dir")
	}
	if f.Changed("stun") {
		cfg.STUNServer, _ = f.GetString("stun")
	}
	if f.Changed("max-clients") {
		cfg.MaxClients, _ = f.GetInt("max-clients")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.LogFormat, _ = f.GetString("log-format")
	}
}
