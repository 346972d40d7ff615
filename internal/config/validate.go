package config

import (
	"fmt"
	"strings"
)

// wavHeaderBytes matches the canonical header written in front of every sample.
const wavHeaderBytes = 44

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	a := cfg.Audio
	if len(a.Sources) == 0 {
		return nil, fmt.Errorf("audio.sources must list at least one source")
	}
	for _, source := range a.Sources {
		if strings.TrimSpace(source) == "" {
			return nil, fmt.Errorf("audio.sources must not contain empty names")
		}
	}
	if a.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}
	if a.Channels != 1 && a.Channels != 2 {
		return nil, fmt.Errorf("audio.channels must be 1 or 2")
	}
	if a.BitsPerSample != 16 {
		return nil, fmt.Errorf("audio.bits_per_sample must be 16")
	}
	if a.BufferHeadroom <= 0 {
		return nil, fmt.Errorf("audio.buffer_headroom must be > 0")
	}
	if a.ChunkBytes < 0 {
		return nil, fmt.Errorf("audio.chunk_bytes must be >= 0")
	}
	if a.ReadTimeoutMS <= 0 {
		return nil, fmt.Errorf("audio.read_timeout_ms must be > 0")
	}
	if a.MaxDurationSeconds <= 0 {
		return nil, fmt.Errorf("audio.max_duration_seconds must be > 0")
	}
	if a.MaxConsecutiveReadErrors <= 0 {
		return nil, fmt.Errorf("audio.max_consecutive_read_errors must be > 0")
	}

	if cfg.Session.MinDurationSeconds < 0 {
		return nil, fmt.Errorf("session.min_duration_seconds must be >= 0")
	}
	if cfg.Session.MinDurationSeconds > a.MaxDurationSeconds {
		return nil, fmt.Errorf("session.min_duration_seconds (%d) exceeds audio.max_duration_seconds (%d)", cfg.Session.MinDurationSeconds, a.MaxDurationSeconds)
	}
	if cfg.Session.RetryWindowSeconds < 0 {
		return nil, fmt.Errorf("session.retry_window_seconds must be >= 0")
	}

	r := cfg.Recognition
	switch r.Backend {
	case BackendACRCloud:
		if len(r.Hosts) == 0 {
			return nil, fmt.Errorf("recognition.hosts must not be empty when recognition.backend=acrcloud")
		}
		if r.AccessKey == "" || r.AccessSecret == "" {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("recognition credentials missing; set %s and %s", EnvAccessKey, EnvAccessSecret)})
		}
	case BackendGRPC:
		if strings.TrimSpace(r.GRPCEndpoint) == "" {
			return nil, fmt.Errorf("recognition.grpc_endpoint must not be empty when recognition.backend=grpc")
		}
	case BackendMock:
		warnings = append(warnings, Warning{Message: "recognition.backend=mock returns canned results"})
	default:
		return nil, fmt.Errorf("recognition.backend must be one of: acrcloud, grpc, mock")
	}
	if r.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("recognition.timeout_seconds must be > 0")
	}
	if r.MaxSampleBytes <= 0 {
		return nil, fmt.Errorf("recognition.max_sample_bytes must be > 0")
	}
	if full := MaxSampleSize(a); full > r.MaxSampleBytes {
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"a full-length recording (%d bytes) exceeds recognition.max_sample_bytes (%d); long clips may be rejected",
			full, r.MaxSampleBytes,
		)})
	}

	if cfg.Output.Clipboard.Raw != "" && len(cfg.Output.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("output.clipboard_cmd is configured but empty")
	}

	ind := cfg.Indicator
	switch ind.Backend {
	case IndicatorHypr:
	case IndicatorDesktop:
		if strings.TrimSpace(ind.DesktopAppName) == "" {
			return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
		}
	default:
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if ind.MatchTimeoutMS < 0 || ind.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.match_timeout_ms and indicator.error_timeout_ms must be >= 0")
	}

	if cfg.Debug.MaxFiles <= 0 {
		return nil, fmt.Errorf("debug.max_files must be > 0")
	}

	if cfg.Log.MaxSizeMB <= 0 {
		return nil, fmt.Errorf("log.max_size_mb must be > 0")
	}
	if cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return nil, fmt.Errorf("log.max_backups and log.max_age_days must be >= 0")
	}

	return warnings, nil
}

// MaxSampleSize returns the encoded size of a recording that runs to the capture limit.
func MaxSampleSize(a AudioConfig) int {
	byteRate := a.SampleRate * a.Channels * a.BitsPerSample / 8
	return wavHeaderBytes + byteRate*a.MaxDurationSeconds
}
