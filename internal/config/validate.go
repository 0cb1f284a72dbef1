package config

import (
	"fmt"
	"strconv"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate rejects values the rest of the process assumes are sane. Bad
// bootstrap settings fail startup; only the runtime encoder parameters are
// clamped instead.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.FPS < 1 || s.FPS > 120 {
		return fmt.Errorf("fps %d out of range [1,120]", s.FPS)
	}
	if _, err := strconv.Atoi(s.DisplayNum); err != nil {
		return fmt.Errorf("display_num %q is not a number", s.DisplayNum)
	}
	if s.MaxClients < 1 {
		return fmt.Errorf("max_clients %d out of range", s.MaxClients)
	}
	if s.LogLevel != "" && !validLogLevels[strings.ToLower(s.LogLevel)] {
		return fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", s.LogLevel)
	}
	if s.LogFormat != "" && !validLogFormats[strings.ToLower(s.LogFormat)] {
		return fmt.Errorf("log_format %q is not valid (use text or json)", s.LogFormat)
	}
	return nil
}
