package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// maxDimension mirrors the capture pipeline's bound on any frame axis.
const maxDimension = 8192

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values that would cause panics are clamped to safe defaults.
// Other validation errors are logged as warnings but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err))
		}
	}

	// Clamp the poll rate to a sane range; zero would panic the ticker.
	if c.StreamFPS < 1 {
		errs = append(errs, fmt.Errorf("stream_fps %d is below minimum 1, clamping", c.StreamFPS))
		c.StreamFPS = 1
	} else if c.StreamFPS > 240 {
		errs = append(errs, fmt.Errorf("stream_fps %d exceeds maximum 240, clamping", c.StreamFPS))
		c.StreamFPS = 240
	}

	if c.MaxWidth < 0 || c.MaxWidth > maxDimension {
		errs = append(errs, fmt.Errorf("max_width %d outside [0, %d], clamping", c.MaxWidth, maxDimension))
		c.MaxWidth = clamp(c.MaxWidth, 0, maxDimension)
	}
	if c.MaxHeight < 0 || c.MaxHeight > maxDimension {
		errs = append(errs, fmt.Errorf("max_height %d outside [0, %d], clamping", c.MaxHeight, maxDimension))
		c.MaxHeight = clamp(c.MaxHeight, 0, maxDimension)
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	// Log validation errors as warnings
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
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
