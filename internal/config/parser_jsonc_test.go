package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeJSONCRemovesCommentsAndTrailingCommas(t *testing.T) {
	input := `
{
  // line comment
  "items": [
    "one", /* block comment */
    "two",
  ],
  "nested": {
    "enabled": true,
  },
}
`

	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.NotContains(t, normalized, "//")
	require.NotContains(t, normalized, "/*")
	require.NotContains(t, normalized, ",]")
	require.NotContains(t, normalized, ",}")
}

func TestNormalizeJSONCRetainsCommentLikeTextInsideStrings(t *testing.T) {
	input := `{"value":"contains // and /* comment-like */ text",}`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.Contains(t, normalized, "// and /* comment-like */")
}

func TestNormalizeJSONCUnterminatedBlockCommentFails(t *testing.T) {
	_, err := normalizeJSONC("{ /* unterminated ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}

func TestEnsureSingleJSONValueRejectsExtraPayload(t *testing.T) {
	decoder := json.NewDecoder(strings.NewReader(`{"one":1}{"two":2}`))
	var payload map[string]any
	require.NoError(t, decoder.Decode(&payload))

	err := ensureSingleJSONValue(decoder)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestOffsetToLineCol(t *testing.T) {
	content := "line1\nline2\nline3"
	line, col := offsetToLineCol(content, 1)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)

	line, col = offsetToLineCol(content, 8) // line2, col2
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)

	line, col = offsetToLineCol(content, 999)
	require.Equal(t, 3, line)
	require.Equal(t, 5, col)
}

func TestJSONCStringListUnmarshal(t *testing.T) {
	var list jsoncStringList
	require.NoError(t, list.UnmarshalJSON([]byte(`["a","b"]`)))
	require.Equal(t, []string{"a", "b"}, []string(list))

	require.NoError(t, list.UnmarshalJSON([]byte(`"a, b, , c"`)))
	require.Equal(t, []string{"a", "b", "c"}, []string(list))

	err := list.UnmarshalJSON([]byte(`123`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected string array")
}

func TestParseJSONCRejectsInvalidCommandArgv(t *testing.T) {
	_, _, err := parseJSONC(`{"output":{"clipboard_cmd":"unterminated ' quote"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid output.clipboard_cmd")
}

func TestParseJSONCRejectsUnknownKeys(t *testing.T) {
	_, _, err := parseJSONC(`{"recognition":{"region":"eu"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseJSONCTrimsAndLowercasesRecognitionFields(t *testing.T) {
	cfg, warnings, err := parseJSONC(`{
  "recognition": {
    "backend": " GRPC ",
    "grpc_endpoint": "  localhost:50061  ",
    "access_key": " key ",
    "access_secret": " secret ",
  },
}`, Default())
	require.NoError(t, err)
	require.Equal(t, BackendGRPC, cfg.Recognition.Backend)
	require.Equal(t, "localhost:50061", cfg.Recognition.GRPCEndpoint)
	require.Equal(t, "key", cfg.Recognition.AccessKey)
	require.Equal(t, "secret", cfg.Recognition.AccessSecret)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, EnvAccessSecret)
}

func TestParseJSONCRejectsMultipleTopLevelValues(t *testing.T) {
	_, _, err := parseJSONC(`{"debug":{"audio_dump":false}}{"debug":{"audio_dump":true}}`, Default())
	require.Error(t, err)
	require.True(
		t,
		strings.Contains(err.Error(), "multiple JSON values") || strings.Contains(err.Error(), "unknown field"),
		"unexpected error: %v",
		err,
	)
}

func TestParseJSONCTypeErrorIncludesLocation(t *testing.T) {
	_, _, err := parseJSONC(`{
  "audio": {"sample_rate": "fast"}
}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line")
	require.Contains(t, err.Error(), "column")
}

func TestParseJSONCSourcesSupportCommaString(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "audio": {
    "sources": "mic, , default",
  }
}`, Default())
	require.NoError(t, err)
	require.Equal(t, []string{"mic", "default"}, cfg.Audio.Sources)
}

func TestParseJSONCLeavesUnsetFieldsAtBase(t *testing.T) {
	cfg, _, err := parseJSONC(`{"session":{"min_duration_seconds":5,"retry_window_seconds":0},"log":{"max_backups":0}}`, Default())
	require.NoError(t, err)

	want := Default()
	want.Session.MinDurationSeconds = 5
	want.Session.RetryWindowSeconds = 0
	want.Log.MaxBackups = 0
	require.Equal(t, want, cfg)
}

func TestParseJSONCIndicatorSection(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "indicator": {
    "enable": true,
    "backend": " Hypr ",
    "sound_enable": true,
    "sound_match_file": " ~/sounds/match.wav ",
    "error_timeout_ms": 2500,
  },
}`, Default())
	require.NoError(t, err)
	require.True(t, cfg.Indicator.Enable)
	require.Equal(t, IndicatorHypr, cfg.Indicator.Backend)
	require.True(t, cfg.Indicator.SoundEnable)
	require.Equal(t, "~/sounds/match.wav", cfg.Indicator.SoundMatchFile)
	require.Equal(t, 2500, cfg.Indicator.ErrorTimeoutMS)
	require.Equal(t, "songid", cfg.Indicator.DesktopAppName)
	require.Equal(t, 6000, cfg.Indicator.MatchTimeoutMS)
}
