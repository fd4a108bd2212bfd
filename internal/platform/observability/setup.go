package observability

import (
	"context"
	"log/slog"
	"sync"
)

// Config captures observability toggles.
type Config struct {
	Enabled bool
	// Metrics replaces the process-wide metrics set when non-nil.
	Metrics *Metrics
}

// ShutdownFunc allows callers to tear down any observability exporters.
type ShutdownFunc func(context.Context) error

var (
	stateMu            sync.RWMutex
	instrumentationLog *slog.Logger
	instrumentationCfg Config
)

func current() (*slog.Logger, Config) {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return instrumentationLog, instrumentationCfg
}

// Setup installs the logger used for spans and selects the metrics set.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = GetMetrics()
	}

	stateMu.Lock()
	instrumentationLog = logger
	instrumentationCfg = cfg
	stateMu.Unlock()

	if logger != nil {
		if cfg.Enabled {
			logger.InfoContext(ctx, "[Metrics] observability enabled")
		} else {
			logger.InfoContext(ctx, "[Metrics] observability disabled")
		}
	}
	return func(context.Context) error {
		stateMu.Lock()
		instrumentationLog = nil
		instrumentationCfg = Config{}
		stateMu.Unlock()
		return nil
	}, nil
}

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := current()
	return cfg.Enabled
}

// Default returns the active metrics set. Before Setup, or when observability
// is disabled, a detached set is returned so callers never need a nil check.
func Default() *Metrics {
	_, cfg := current()
	if cfg.Enabled && cfg.Metrics != nil {
		return cfg.Metrics
	}
	return discard()
}

var (
	discardOnce    sync.Once
	discardMetrics *Metrics
)

func discard() *Metrics {
	discardOnce.Do(func() { discardMetrics = NewMetrics() })
	return discardMetrics
}
