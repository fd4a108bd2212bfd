package config

import "time"

// DefaultConfig returns the configuration used when no file overrides a field.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8080,
			Auth: AuthConfig{
				Enabled:  true,
				TokenTTL: 30 * 24 * time.Hour,
			},
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			StaticDir: "web",
			Origins:   []string{"*"},
		},
		Intake: IntakeConfig{
			MaxFileSize:    10 * 1024 * 1024,
			MinFileSize:    100,
			MaxPixels:      40_000_000,
			MaxWidth:       10000,
			MaxHeight:      10000,
			AllowedFormats: []string{"jpeg", "jpg", "png", "gif", "webp"},
			EnableDeepScan: true,
			TargetMaxSide:  2048,
			JPEGQuality:    85,
		},
		Inspection: InspectionConfig{
			Timeout:          90 * time.Second,
			MaxConcurrent:    4,
			ProgressInterval: 500 * time.Millisecond,
		},
		Selected: SelectedConfig{
			VLLLM: "OpenAIVision",
		},
		VLLLM: map[string]VLLLMConfig{
			"OpenAIVision": {
				Type:        "openai",
				ModelName:   "gpt-4o",
				BaseURL:     "https://api.openai.com/v1",
				Temperature: 0.2,
				MaxTokens:   2048,
				TopP:        1,
			},
			"OllamaVision": {
				Type:        "ollama",
				ModelName:   "llava:13b",
				BaseURL:     "http://localhost:11434",
				Temperature: 0.2,
				MaxTokens:   2048,
				TopP:        1,
			},
		},
		Storage: StorageConfig{
			DSN: "./data/sunforge.db",
		},
		Cache: CacheConfig{
			Driver: "memory",
			TTL:    10 * time.Minute,
			Redis: RedisCacheConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "sunforge:latest:",
			},
		},
		IoT: IoTConfig{
			APIKey: "test1234",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
