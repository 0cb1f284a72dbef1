package x11

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/lucidesk/lucidesk/internal/logging"
)

// applyWallpaper points every desktop backdrop at the configured image.
// The settings daemon lives on the session bus that dbus-run-session
// created, so its address has to be recovered from the daemon's environment
// before xfconf-query can reach it.
func (s *Session) applyWallpaper() {
	if s.opts.Wallpaper == "" {
		return
	}

	busAddr := sessionBusAddress()
	if busAddr == "" {
		log.Warn("session bus not found, wallpaper not set")
		return
	}
	env := append(s.env(), "DBUS_SESSION_BUS_ADDRESS="+busAddr)

	list := exec.Command("xfconf-query", "-c", "xfce4-desktop", "-l")
	list.Env = env
	out, err := list.Output()
	if err != nil {
		log.Warn("listing desktop properties failed", logging.KeyError, err)
		return
	}

	props := imageProps(string(out))
	for _, prop := range props {
		runWithEnv(env, "xfconf-query", "-c", "xfce4-desktop", "-p", prop, "-s", s.opts.Wallpaper)
		// Style 5 scales the image to fill the screen.
		runWithEnv(env, "xfconf-query", "-c", "xfce4-desktop", "-p", styleProp(prop), "-s", "5")
	}

	if len(props) > 0 {
		runWithEnv(env, "xfdesktop", "--reload")
		log.Info("wallpaper applied", "image", s.opts.Wallpaper, "backdrops", len(props))
	}
}

// imageProps filters an xfconf property listing down to the per-monitor
// backdrop image properties.
func imageProps(listing string) []string {
	var props []string
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, "/last-image") {
			props = append(props, line)
		}
	}
	return props
}

func styleProp(imageProp string) string {
	return strings.TrimSuffix(imageProp, "/last-image") + "/image-style"
}

// sessionBusAddress finds the desktop session's bus by reading it out of
// the settings daemon's environment.
func sessionBusAddress() string {
	out, err := exec.Command("pgrep", "-x", "xfconfd").Output()
	if err != nil {
		return ""
	}
	pids := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(pids) == 0 || pids[0] == "" {
		return ""
	}
	environ, err := os.ReadFile(fmt.Sprintf("/proc/%s/environ", pids[0]))
	if err != nil {
		return ""
	}
	return busAddressFromEnviron(environ)
}

// busAddressFromEnviron extracts DBUS_SESSION_BUS_ADDRESS from a raw
// /proc/<pid>/environ blob.
func busAddressFromEnviron(environ []byte) string {
	for _, entry := range strings.Split(string(environ), "\x00") {
		if v, ok := strings.CutPrefix(entry, "DBUS_SESSION_BUS_ADDRESS="); ok {
			return v
		}
	}
	return ""
}

func runWithEnv(env []string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Env = env
	return cmd.Run()
}
