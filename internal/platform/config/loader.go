package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"sunforge-server/internal/platform/errors"
)

// EnvConfigPath names the variable that points at an explicit config file.
const EnvConfigPath = "SUNFORGE_CONFIG"

var defaultSearchPaths = []string{".config.yaml", "config.yaml"}

// Loader reads YAML configuration over DefaultConfig and applies environment
// overrides for secrets.
type Loader struct {
	useDotEnv bool
	paths     []string
	getenv    func(string) string
}

// NewLoader creates a loader that searches $SUNFORGE_CONFIG, ./.config.yaml and ./config.yaml.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		getenv:    os.Getenv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPaths overrides the search list.
func (l *Loader) WithPaths(paths ...string) *Loader {
	l.paths = paths
	return l
}

// Result captures the loaded configuration and its origin path. Path is empty
// when only defaults were used.
type Result struct {
	Config *Config
	Path   string
}

func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// A missing .env is normal outside development.
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path, err := l.locate()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.load", "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.load", "parse "+path, err)
		}
	}

	l.applyEnv(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) locate() (string, error) {
	if explicit := l.getenv(EnvConfigPath); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errors.Wrap(errors.KindConfig, "config.locate", "config file from "+EnvConfigPath, err)
		}
		return explicit, nil
	}

	paths := l.paths
	if len(paths) == 0 {
		paths = defaultSearchPaths
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func (l *Loader) applyEnv(cfg *Config) {
	if v := l.getenv("SUNFORGE_VLLLM_API_KEY"); v != "" {
		name := cfg.Selected.VLLLM
		if vc, ok := cfg.VLLLM[name]; ok {
			vc.APIKey = v
			cfg.VLLLM[name] = vc
		}
	}
	if v := l.getenv("SUNFORGE_IOT_API_KEY"); v != "" {
		cfg.IoT.APIKey = v
	}
	if v := l.getenv("SUNFORGE_AUTH_SECRET"); v != "" {
		cfg.Server.Auth.Secret = v
	}
	if v := l.getenv("SUNFORGE_REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := l.getenv("SUNFORGE_DB_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := l.getenv("SUNFORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func (l *Loader) validate(cfg *Config) error {
	const op = "config.validate"

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.Newf(errors.KindConfig, op, "invalid server port %d", cfg.Server.Port)
	}

	if cfg.Selected.VLLLM != "" {
		vc, ok := cfg.VLLLM[cfg.Selected.VLLLM]
		if !ok {
			return errors.Newf(errors.KindConfig, op, "selected VLLLM %q is not configured", cfg.Selected.VLLLM)
		}
		switch strings.ToLower(vc.Type) {
		case "openai", "ollama":
		default:
			return errors.Newf(errors.KindConfig, op, "unsupported VLLLM type %q", vc.Type)
		}
	}

	in := cfg.Intake
	if in.MinFileSize < 0 || in.MaxFileSize <= in.MinFileSize {
		return errors.New(errors.KindConfig, op, "intake.max_file_size must exceed intake.min_file_size")
	}
	if in.TargetMaxSide < 0 {
		return errors.New(errors.KindConfig, op, "intake.target_max_side must not be negative")
	}
	if in.JPEGQuality < 1 || in.JPEGQuality > 100 {
		return errors.Newf(errors.KindConfig, op, "intake.jpeg_quality %d outside 1..100", in.JPEGQuality)
	}

	if cfg.Inspection.Timeout <= 0 {
		return errors.New(errors.KindConfig, op, "inspection.timeout must be positive")
	}
	if cfg.Inspection.MaxConcurrent < 0 {
		return errors.New(errors.KindConfig, op, "inspection.max_concurrent must not be negative")
	}

	switch cfg.Cache.Driver {
	case "", "memory", "redis":
	default:
		return errors.Newf(errors.KindConfig, op, "unsupported cache driver %q", cfg.Cache.Driver)
	}

	return nil
}
