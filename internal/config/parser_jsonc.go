package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Audio       *jsoncAudio       `json:"audio"`
	Session     *jsoncSession     `json:"session"`
	Recognition *jsoncRecognition `json:"recognition"`
	Output      *jsoncOutput      `json:"output"`
	Indicator   *jsoncIndicator   `json:"indicator"`
	Debug       *jsoncDebug       `json:"debug"`
	Log         *jsoncLog         `json:"log"`
}

type jsoncAudio struct {
	Sources                  *jsoncStringList `json:"sources"`
	SampleRate               *int             `json:"sample_rate"`
	Channels                 *int             `json:"channels"`
	BitsPerSample            *int             `json:"bits_per_sample"`
	BufferHeadroom           *int             `json:"buffer_headroom"`
	ChunkBytes               *int             `json:"chunk_bytes"`
	ReadTimeoutMS            *int             `json:"read_timeout_ms"`
	MaxDurationSeconds       *int             `json:"max_duration_seconds"`
	MaxConsecutiveReadErrors *int             `json:"max_consecutive_read_errors"`
}

type jsoncSession struct {
	MinDurationSeconds *int `json:"min_duration_seconds"`
	RetryWindowSeconds *int `json:"retry_window_seconds"`
}

type jsoncRecognition struct {
	Backend        *string          `json:"backend"`
	Hosts          *jsoncStringList `json:"hosts"`
	AccessKey      *string          `json:"access_key"`
	AccessSecret   *string          `json:"access_secret"`
	TimeoutSeconds *int             `json:"timeout_seconds"`
	GRPCEndpoint   *string          `json:"grpc_endpoint"`
	MaxSampleBytes *int             `json:"max_sample_bytes"`
}

type jsoncOutput struct {
	ClipboardCmd *string `json:"clipboard_cmd"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	Backend        *string `json:"backend"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	SoundStartFile *string `json:"sound_start_file"`
	SoundStopFile  *string `json:"sound_stop_file"`
	SoundMatchFile *string `json:"sound_match_file"`
	SoundFailFile  *string `json:"sound_fail_file"`
	MatchTimeoutMS *int    `json:"match_timeout_ms"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncDebug struct {
	AudioDump *bool   `json:"audio_dump"`
	Dir       *string `json:"dir"`
	MaxFiles  *int    `json:"max_files"`
}

type jsoncLog struct {
	MaxSizeMB  *int `json:"max_size_mb"`
	MaxBackups *int `json:"max_backups"`
	MaxAgeDays *int `json:"max_age_days"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = trimList(list)
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = trimList(strings.Split(single, ","))
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func trimList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if a := payload.Audio; a != nil {
		if a.Sources != nil {
			cfg.Audio.Sources = append([]string(nil), (*a.Sources)...)
		}
		setInt(&cfg.Audio.SampleRate, a.SampleRate)
		setInt(&cfg.Audio.Channels, a.Channels)
		setInt(&cfg.Audio.BitsPerSample, a.BitsPerSample)
		setInt(&cfg.Audio.BufferHeadroom, a.BufferHeadroom)
		setInt(&cfg.Audio.ChunkBytes, a.ChunkBytes)
		setInt(&cfg.Audio.ReadTimeoutMS, a.ReadTimeoutMS)
		setInt(&cfg.Audio.MaxDurationSeconds, a.MaxDurationSeconds)
		setInt(&cfg.Audio.MaxConsecutiveReadErrors, a.MaxConsecutiveReadErrors)
	}

	if payload.Session != nil {
		setInt(&cfg.Session.MinDurationSeconds, payload.Session.MinDurationSeconds)
		setInt(&cfg.Session.RetryWindowSeconds, payload.Session.RetryWindowSeconds)
	}

	if r := payload.Recognition; r != nil {
		if r.Backend != nil {
			cfg.Recognition.Backend = strings.ToLower(strings.TrimSpace(*r.Backend))
		}
		if r.Hosts != nil {
			cfg.Recognition.Hosts = append([]string(nil), (*r.Hosts)...)
		}
		if r.AccessKey != nil {
			cfg.Recognition.AccessKey = strings.TrimSpace(*r.AccessKey)
		}
		if r.AccessSecret != nil {
			cfg.Recognition.AccessSecret = strings.TrimSpace(*r.AccessSecret)
			if cfg.Recognition.AccessSecret != "" {
				warnings = append(warnings, Warning{Message: "recognition.access_secret is stored in the config file; prefer " + EnvAccessSecret})
			}
		}
		setInt(&cfg.Recognition.TimeoutSeconds, r.TimeoutSeconds)
		if r.GRPCEndpoint != nil {
			cfg.Recognition.GRPCEndpoint = strings.TrimSpace(*r.GRPCEndpoint)
		}
		setInt(&cfg.Recognition.MaxSampleBytes, r.MaxSampleBytes)
	}

	if payload.Output != nil && payload.Output.ClipboardCmd != nil {
		raw := *payload.Output.ClipboardCmd
		argv, err := parseArgv(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid output.clipboard_cmd: %w", err)
		}
		cfg.Output.Clipboard = CommandConfig{Raw: raw, Argv: argv}
	}

	if i := payload.Indicator; i != nil {
		if i.Enable != nil {
			cfg.Indicator.Enable = *i.Enable
		}
		if i.Backend != nil {
			cfg.Indicator.Backend = strings.ToLower(strings.TrimSpace(*i.Backend))
		}
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		if i.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *i.SoundEnable
		}
		setString(&cfg.Indicator.SoundStartFile, i.SoundStartFile)
		setString(&cfg.Indicator.SoundStopFile, i.SoundStopFile)
		setString(&cfg.Indicator.SoundMatchFile, i.SoundMatchFile)
		setString(&cfg.Indicator.SoundFailFile, i.SoundFailFile)
		setInt(&cfg.Indicator.MatchTimeoutMS, i.MatchTimeoutMS)
		setInt(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if d := payload.Debug; d != nil {
		if d.AudioDump != nil {
			cfg.Debug.AudioDump = *d.AudioDump
		}
		if d.Dir != nil {
			cfg.Debug.Dir = strings.TrimSpace(*d.Dir)
		}
		setInt(&cfg.Debug.MaxFiles, d.MaxFiles)
	}

	if l := payload.Log; l != nil {
		setInt(&cfg.Log.MaxSizeMB, l.MaxSizeMB)
		setInt(&cfg.Log.MaxBackups, l.MaxBackups)
		setInt(&cfg.Log.MaxAgeDays, l.MaxAgeDays)
	}

	return warnings, nil
}

func setInt(dst *int, value *int) {
	if value != nil {
		*dst = *value
	}
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
