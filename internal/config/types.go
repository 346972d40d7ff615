// Package config resolves, parses, validates, and defaults songid configuration.
package config

// Config is the fully materialized runtime configuration used by songid.
type Config struct {
	Audio       AudioConfig
	Session     SessionConfig
	Recognition RecognitionConfig
	Output      OutputConfig
	Indicator   IndicatorConfig
	Debug       DebugConfig
	Log         LogConfig
}

// AudioConfig controls capture format, source order, and capture limits.
type AudioConfig struct {
	Sources                  []string
	SampleRate               int
	Channels                 int
	BitsPerSample            int
	BufferHeadroom           int
	ChunkBytes               int
	ReadTimeoutMS            int
	MaxDurationSeconds       int
	MaxConsecutiveReadErrors int
}

// SessionConfig controls recording-length policy and how long a failed
// attempt stays open for `songid retry`.
type SessionConfig struct {
	MinDurationSeconds int
	RetryWindowSeconds int
}

// RecognitionConfig selects and configures the recognition backend.
type RecognitionConfig struct {
	Backend        string
	Hosts          []string
	AccessKey      string
	AccessSecret   string
	TimeoutSeconds int
	GRPCEndpoint   string
	MaxSampleBytes int
}

// OutputConfig controls where a recognized song is dispatched.
type OutputConfig struct {
	Clipboard CommandConfig
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// IndicatorConfig controls progress notifications and audio cues.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	SoundStartFile string
	SoundStopFile  string
	SoundMatchFile string
	SoundFailFile  string
	MatchTimeoutMS int
	ErrorTimeoutMS int
}

// DebugConfig controls optional debug clip output.
type DebugConfig struct {
	AudioDump bool
	Dir       string
	MaxFiles  int
}

// LogConfig controls log file rotation.
type LogConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// Indicator backends.
const (
	IndicatorHypr    = "hypr"
	IndicatorDesktop = "desktop"
)

// Recognition backends.
const (
	BackendACRCloud = "acrcloud"
	BackendGRPC     = "grpc"
	BackendMock     = "mock"
)
