package config

import (
	"time"
)

type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Log        LogConfig              `yaml:"log"`
	Web        WebConfig              `yaml:"web"`
	Intake     IntakeConfig           `yaml:"intake"`
	Inspection InspectionConfig       `yaml:"inspection"`
	Selected   SelectedConfig         `yaml:"selected_module"`
	VLLLM      map[string]VLLLMConfig `yaml:"VLLLM"`
	Storage    StorageConfig          `yaml:"storage"`
	Cache      CacheConfig            `yaml:"cache"`
	IoT        IoTConfig              `yaml:"iot"`
	Metrics    MetricsConfig          `yaml:"metrics"`
}

type ServerConfig struct {
	IP   string     `yaml:"ip"`
	Port int        `yaml:"port"`
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls device JWTs accepted by the telemetry ingest endpoint.
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type WebConfig struct {
	StaticDir string   `yaml:"static_dir"`
	Origins   []string `yaml:"cors_origins"`
}

// IntakeConfig bounds what an uploaded panel photo may look like and how it
// is normalized before inference.
type IntakeConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`
	MinFileSize    int64    `yaml:"min_file_size"`
	MaxPixels      int64    `yaml:"max_pixels"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	AllowedFormats []string `yaml:"allowed_formats"`
	EnableDeepScan bool     `yaml:"enable_deep_scan"`
	TargetMaxSide  int      `yaml:"target_max_side"`
	JPEGQuality    int      `yaml:"jpeg_quality"`
}

type InspectionConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxConcurrent    int64         `yaml:"max_concurrent"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

type SelectedConfig struct {
	VLLLM string `yaml:"VLLLM"`
}

type VLLLMConfig struct {
	Type        string  `yaml:"type"`
	ModelName   string  `yaml:"model_name"`
	BaseURL     string  `yaml:"url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float64 `yaml:"top_p"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

type CacheConfig struct {
	Driver string           `yaml:"driver"`
	TTL    time.Duration    `yaml:"ttl"`
	Redis  RedisCacheConfig `yaml:"redis"`
}

type RedisCacheConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type IoTConfig struct {
	APIKey string `yaml:"api_key"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SelectedVLLLM returns the configuration of the selected vision provider.
func (c *Config) SelectedVLLLM() (string, VLLLMConfig, bool) {
	name := c.Selected.VLLLM
	cfg, ok := c.VLLLM[name]
	return name, cfg, ok
}
