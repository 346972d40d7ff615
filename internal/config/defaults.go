package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Sources:                  []string{"voice_recognition", "mic", "voice_communication", "default", "camcorder"},
			SampleRate:               44100,
			Channels:                 1,
			BitsPerSample:            16,
			BufferHeadroom:           4,
			ChunkBytes:               0,
			ReadTimeoutMS:            100,
			MaxDurationSeconds:       30,
			MaxConsecutiveReadErrors: 10,
		},
		Session: SessionConfig{
			MinDurationSeconds: 3,
			RetryWindowSeconds: 20,
		},
		Recognition: RecognitionConfig{
			Backend: BackendACRCloud,
			Hosts: []string{
				"identify-us-west-2.acrcloud.com",
				"identify-eu-west-1.acrcloud.com",
				"identify-ap-southeast-1.acrcloud.com",
				"identify-cn-north-1.acrcloud.cn",
			},
			TimeoutSeconds: 10,
			GRPCEndpoint:   "127.0.0.1:50061",
			MaxSampleBytes: 5 * 1024 * 1024,
		},
		Indicator: IndicatorConfig{
			Backend:        IndicatorDesktop,
			DesktopAppName: "songid",
			MatchTimeoutMS: 6000,
			ErrorTimeoutMS: 1600,
		},
		Debug: DebugConfig{
			MaxFiles: 10,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
