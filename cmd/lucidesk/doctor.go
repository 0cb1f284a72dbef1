package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lucidesk/lucidesk/internal/config"
)

type doctorCheck struct {
	name     string
	required bool
	ok       bool
	detail   string
}

// runDoctor verifies the host has everything the server needs before it is
// actually started: external binaries, a bindable port, and viewer assets.
func runDoctor() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var checks []doctorCheck

	checks = append(checks, checkBinary("encoder", cfg.EncoderPath, true))

	if cfg.TestPatternEnabled() {
		checks = append(checks, doctorCheck{
			name: "graphical session", ok: true,
			detail: "skipped, test pattern mode",
		})
	} else {
		for _, bin := range []string{"Xvfb", "dbus-run-session", "xfce4-session", "xset", "xrandr", "xdotool"} {
			checks = append(checks, checkBinary(bin, bin, true))
		}
		for _, bin := range []string{"xfconf-query", "xfdesktop"} {
			checks = append(checks, checkBinary(bin, bin, false))
		}
	}

	checks = append(checks, checkPort(cfg.Port))
	checks = append(checks, checkViewerAssets(cfg.PublicDir))

	failed := false
	for _, c := range checks {
		status := "ok"
		if !c.ok {
			if c.required {
				status = "MISSING"
				failed = true
			} else {
				status = "missing (optional)"
			}
		}
		line := fmt.Sprintf("%-18s %s", c.name, status)
		if c.detail != "" {
			line += " - " + c.detail
		}
		fmt.Println(line)
	}

	if failed {
		fmt.Println("\nSome required checks failed.")
		os.Exit(1)
	}
	fmt.Println("\nAll required checks passed.")
}

func checkBinary(name, path string, required bool) doctorCheck {
	c := doctorCheck{name: name, required: required}
	if strings.Contains(path, string(filepath.Separator)) {
		if _, err := os.Stat(path); err == nil {
			c.ok = true
			c.detail = path
		} else {
			c.detail = path + " not found"
		}
		return c
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		c.detail = path + " not in PATH"
		return c
	}
	c.ok = true
	c.detail = resolved
	return c
}

func checkPort(port int) doctorCheck {
	c := doctorCheck{name: "port", required: true}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		c.detail = fmt.Sprintf("cannot bind :%d: %v", port, err)
		return c
	}
	ln.Close()
	c.ok = true
	c.detail = fmt.Sprintf(":%d is free", port)
	return c
}

func checkViewerAssets(publicDir string) doctorCheck {
	c := doctorCheck{name: "viewer assets", required: false}
	page := filepath.Join(publicDir, "viewer.html")
	if _, err := os.Stat(page); err != nil {
		c.detail = page + " not found"
		return c
	}
	c.ok = true
	c.detail = page
	return c
}
