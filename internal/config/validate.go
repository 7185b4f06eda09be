package config

import (
	"fmt"
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

// ValidationResult separates configuration problems that must block startup
// (Fatals) from ones that can be auto-corrected and merely logged (Warnings).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r *ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings, for callers that just want
// a flat list to display.
func (r *ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values. Dangerous zero/out of
// range values that would cause panics downstream (queue sizes, buffer
// capacities) are clamped to safe defaults and reported as warnings; values
// that indicate a broken install (malformed paths, conflicting options) are
// fatal and block startup.
func (c *Config) ValidateTiered() *ValidationResult {
	result := &ValidationResult{}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if len(c.TrustedExecutables) == 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("trusted_executables must not be empty"))
	}

	if c.SegmentBufferSeconds < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("segment_buffer_seconds %d is below minimum 1, clamping", c.SegmentBufferSeconds))
		c.SegmentBufferSeconds = 1
	} else if c.SegmentBufferSeconds > 300 {
		result.Warnings = append(result.Warnings, fmt.Errorf("segment_buffer_seconds %d exceeds maximum 300, clamping", c.SegmentBufferSeconds))
		c.SegmentBufferSeconds = 300
	}

	if c.SegmentSampleRateHz < 8000 {
		result.Warnings = append(result.Warnings, fmt.Errorf("segment_sample_rate_hz %d is below minimum 8000, clamping", c.SegmentSampleRateHz))
		c.SegmentSampleRateHz = 16000
	}

	if c.SegmentOverflowFrac <= 0 || c.SegmentOverflowFrac > 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("segment_overflow_fraction %v out of range (0,1], clamping to 0.9", c.SegmentOverflowFrac))
		c.SegmentOverflowFrac = 0.9
	}

	if c.ConnRateLimitAttempts < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("conn_rate_limit_attempts %d is below minimum 1, clamping", c.ConnRateLimitAttempts))
		c.ConnRateLimitAttempts = 1
	}

	if c.ThumbnailJPEGQuality < 1 || c.ThumbnailJPEGQuality > 100 {
		result.Warnings = append(result.Warnings, fmt.Errorf("thumbnail_jpeg_quality %d out of range [1,100], clamping to 80", c.ThumbnailJPEGQuality))
		c.ThumbnailJPEGQuality = 80
	}

	if c.TranscriptionEnabled && c.TranscriptionModelPath == "" {
		result.Fatals = append(result.Fatals, fmt.Errorf("transcription_enabled requires transcription_model_path"))
	}

	if c.PreviewListenAddr != "" {
		host, _, err := net.SplitHostPort(c.PreviewListenAddr)
		if err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("preview_listen_addr %q is not host:port", c.PreviewListenAddr))
		} else if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			result.Fatals = append(result.Fatals, fmt.Errorf("preview_listen_addr %q must be a loopback address", c.PreviewListenAddr))
		}
	}

	return result
}
