// Package config holds the process bootstrap settings: listen port, capture
// framerate, X display, and the knobs that never change while the server is
// running. The per-stream encoder parameters that clients mutate at runtime
// live in the encoder registry, not here.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings is the effective bootstrap configuration. Values come from, in
// increasing precedence: built-in defaults, an optional YAML file, the
// environment, command-line flags.
type Settings struct {
	Port       int    `mapstructure:"port" yaml:"port"`
	FPS        int    `mapstructure:"fps" yaml:"fps"`
	DisplayNum string `mapstructure:"display_num" yaml:"display_num"`

	// PublicIP overrides the ICE host candidate address. When empty the
	// per-connection Host header is resolved instead.
	PublicIP string `mapstructure:"webrtc_public_ip" yaml:"webrtc_public_ip"`

	// TestPattern, when non-empty, replaces screen capture with a synthetic
	// source and skips X session bring-up entirely.
	TestPattern string `mapstructure:"test_pattern" yaml:"test_pattern"`

	PublicDir   string `mapstructure:"public_dir" yaml:"public_dir"`
	STUNServer  string `mapstructure:"stun_server" yaml:"stun_server"`
	MaxClients  int    `mapstructure:"max_clients" yaml:"max_clients"`
	EncoderPath string `mapstructure:"encoder_path" yaml:"encoder_path"`
	Wallpaper   string `mapstructure:"wallpaper" yaml:"wallpaper"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

// Display returns the X display string used for DISPLAY env vars, e.g. ":99".
func (s *Settings) Display() string {
	return ":" + s.DisplayNum
}

// CaptureInput returns the x11grab input spec. Capture always targets
// screen 0 of the display; injected input and spawned apps use Display().
func (s *Settings) CaptureInput() string {
	return ":" + s.DisplayNum + ".0"
}

// TestPatternEnabled reports whether synthetic-source mode is on.
// Any non-empty TEST_PATTERN value enables it.
func (s *Settings) TestPatternEnabled() bool {
	return s.TestPattern != ""
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("fps", 30)
	v.SetDefault("display_num", "99")
	v.SetDefault("public_dir", "public")
	v.SetDefault("stun_server", "stun:stun.l.google.com:19302")
	v.SetDefault("max_clients", 64)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)

	// The environment names predate the config file and stay unprefixed.
	v.BindEnv("port", "PORT")
	v.BindEnv("fps", "FPS")
	v.BindEnv("display_num", "DISPLAY_NUM")
	v.BindEnv("webrtc_public_ip", "WEBRTC_PUBLIC_IP")
	v.BindEnv("test_pattern", "TEST_PATTERN")
	v.BindEnv("public_dir", "PUBLIC_DIR")
	v.BindEnv("stun_server", "STUN_SERVER")
	v.BindEnv("max_clients", "MAX_CLIENTS")
	v.BindEnv("encoder_path", "ENCODER_PATH")
	v.BindEnv("wallpaper", "WALLPAPER")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("log_format", "LOG_FORMAT")
	v.BindEnv("log_file", "LOG_FILE")

	return v
}

// Load reads settings from defaults, the optional config file, and the
// environment. cfgFile may be empty, in which case lucidesk.yaml is looked
// up in /etc/lucidesk and the working directory.
func Load(cfgFile string) (*Settings, error) {
	v := newViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("lucidesk")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/lucidesk")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// An explicit --config that does not exist is an error; the
			// default lookup is best-effort.
			if cfgFile != "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Settings{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.EncoderPath == "" {
		cfg.EncoderPath = defaultEncoderPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dump renders the effective settings as YAML, for `lucidesk config dump`.
func (s *Settings) Dump() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}

// defaultEncoderPath prefers the bundled ffmpeg used in container images and
// falls back to PATH lookup.
func defaultEncoderPath() string {
	if _, err := os.Stat("/app/bin/ffmpeg"); err == nil {
		return "/app/bin/ffmpeg"
	}
	return "ffmpeg"
}
