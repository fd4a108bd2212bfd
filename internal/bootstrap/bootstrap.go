package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"sunforge-server/internal/core/providers/vlllm"
	domainauth "sunforge-server/internal/domain/auth"
	"sunforge-server/internal/domain/eventbus"
	domainimage "sunforge-server/internal/domain/image"
	domaininspection "sunforge-server/internal/domain/inspection"
	"sunforge-server/internal/domain/telemetry/cache"
	telemetryservice "sunforge-server/internal/domain/telemetry/service"
	platformconfig "sunforge-server/internal/platform/config"
	platformerrors "sunforge-server/internal/platform/errors"
	platformlogging "sunforge-server/internal/platform/logging"
	platformobservability "sunforge-server/internal/platform/observability"
	platformstorage "sunforge-server/internal/platform/storage"
	httptransport "sunforge-server/internal/transport/http"
	httpinspection "sunforge-server/internal/transport/http/inspection"
	httpsystem "sunforge-server/internal/transport/http/system"
	httptelemetry "sunforge-server/internal/transport/http/telemetry"
)

const (
	eventWorkers    = 4
	shutdownTimeout = 15 * time.Second
)

// Options tunes Run. The zero value searches the default config locations.
type Options struct {
	// ConfigPath pins the configuration file instead of searching for one.
	ConfigPath string
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	options    Options
	config     *platformconfig.Config
	configPath string
	// console overrides the logger's console sink.
	console io.Writer

	logger                *platformlogging.Logger
	slogger               *slog.Logger
	metrics               *platformobservability.Metrics
	observabilityShutdown platformobservability.ShutdownFunc

	db       *gorm.DB
	latest   cache.LatestReadings
	bus      *eventbus.AsyncEventBus
	provider *vlllm.Provider
	pipeline *domainimage.Pipeline

	inspection *domaininspection.Service
	telemetry  *telemetryservice.TelemetryService
	router     *httptransport.Router
}

// Run loads configuration, builds every component in dependency order,
// serves HTTP until ctx ends or SIGINT/SIGTERM arrives, then shuts down.
func Run(ctx context.Context, opts Options) error {
	state := &appState{options: opts}
	defer state.close()

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}
	logBootstrapGraph(steps, state.logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)
	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		return err
	}
	state.logger.InfoTag("Bootstrap", "sunforge-server started")

	return waitForShutdown(signalCtx, cancel, state.logger, group)
}

// InitGraph lists the startup steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Open telemetry database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "cache:init-latest-readings",
			Title:     "Initialise latest-reading cache",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initCacheStep,
		},
		{
			ID:        "events:init-bus",
			Title:     "Start event bus",
			DependsOn: []string{"observability:setup-hooks"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "inference:init-provider",
			Title:     "Initialise vision model provider",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindInference,
			Execute:   initProviderStep,
		},
		{
			ID:        "image:init-pipeline",
			Title:     "Initialise image intake pipeline",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindVision,
			Execute:   initPipelineStep,
		},
		{
			ID:        "inspection:init-service",
			Title:     "Initialise inspection service",
			DependsOn: []string{"inference:init-provider", "events:init-bus"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initInspectionStep,
		},
		{
			ID:        "telemetry:init-service",
			Title:     "Initialise telemetry service",
			DependsOn: []string{"storage:init-database", "cache:init-latest-readings", "events:init-bus"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initTelemetryStep,
		},
		{
			ID:        "http:build-router",
			Title:     "Build HTTP router",
			DependsOn: []string{"image:init-pipeline", "inspection:init-service", "telemetry:init-service"},
			Kind:      platformerrors.KindTransport,
			Execute:   buildRouterStep,
		},
	}
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("Bootstrap", "init graph overview")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("Bootstrap", "%s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag("Bootstrap", "%s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func loadConfigStep(_ context.Context, state *appState) error {
	// Tests hand in a ready config.
	if state.config != nil {
		return nil
	}

	loader := platformconfig.NewLoader()
	if path := state.options.ConfigPath; path != "" {
		if _, err := os.Stat(path); err != nil {
			return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "config file "+path, err)
		}
		loader = loader.WithPaths(path)
	}
	result, err := loader.Load()
	if err != nil {
		return err
	}

	state.config = result.Config
	state.configPath = result.Path
	if state.configPath == "" {
		state.configPath = "defaults"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
		Console:  state.console,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	state.slogger = logger.Slog()
	platformlogging.DefaultLogger = logger

	logger.InfoTag("Bootstrap", "logging ready [%s] config=%s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	metrics := platformobservability.GetMetrics()
	shutdown, err := platformobservability.Setup(ctx, platformobservability.Config{
		Enabled: state.config.Metrics.Enabled,
		Metrics: metrics,
	}, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}

	state.observabilityShutdown = shutdown
	state.metrics = platformobservability.Default()
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	db, err := platformstorage.Open(state.config.Storage.DSN)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to open database", err)
	}
	state.db = db
	state.logger.InfoTag("Bootstrap", "database ready: %s", state.config.Storage.DSN)
	return nil
}

func initCacheStep(_ context.Context, state *appState) error {
	cc := state.config.Cache
	cfg := cache.Config{
		Driver: cc.Driver,
		TTL:    cc.TTL,
	}
	if cc.Driver == cache.DriverRedis {
		if strings.TrimSpace(cc.Redis.Addr) == "" {
			return platformerrors.New(platformerrors.KindConfig, "cache:init-latest-readings", "redis cache addr is required")
		}
		cfg.Redis = &cache.RedisConfig{
			Addr:     cc.Redis.Addr,
			Username: cc.Redis.Username,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			Prefix:   cc.Redis.Prefix,
		}
	}

	latest, err := cache.New(cfg)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "cache:init-latest-readings", "failed to create cache", err)
	}
	state.latest = latest
	state.logger.InfoTag("Cache", "latest-reading cache ready: driver=%s ttl=%s", cfg.Driver, cfg.TTL)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.NewAsyncEventBus(eventWorkers).WithLogger(state.logger)
	bus.Start()
	state.bus = bus

	if err := eventbus.NewLogHandler(state.logger, state.metrics).Register(bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "events:init-bus", "failed to register event handlers", err)
	}
	return nil
}

func initProviderStep(_ context.Context, state *appState) error {
	name, vc, ok := state.config.SelectedVLLLM()
	if !ok {
		return platformerrors.New(platformerrors.KindConfig, "inference:init-provider",
			fmt.Sprintf("selected VLLLM %q is not configured", name))
	}

	provider, err := vlllm.NewProvider(name, vlllm.FromConfig(vc), state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindInference, "inference:init-provider", "failed to create vision provider", err)
	}
	state.provider = provider
	state.logger.InfoTag("VLLLM", "using %s (%s, model %s)", name, provider.Type(), provider.Model())
	return nil
}

func initPipelineStep(_ context.Context, state *appState) error {
	pipeline, err := domainimage.NewPipeline(domainimage.Options{
		Intake: &state.config.Intake,
		Logger: state.logger,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindVision, "image:init-pipeline", "failed to create image pipeline", err)
	}
	state.pipeline = pipeline
	return nil
}

func initInspectionStep(_ context.Context, state *appState) error {
	ic := state.config.Inspection
	svc, err := domaininspection.NewService(domaininspection.Options{
		Inferencer:    state.provider,
		Logger:        state.logger,
		Timeout:       ic.Timeout,
		MaxConcurrent: ic.MaxConcurrent,
		Publisher:     state.bus,
		Metrics:       state.metrics,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "inspection:init-service", "failed to create inspection service", err)
	}
	state.inspection = svc
	return nil
}

func initTelemetryStep(_ context.Context, state *appState) error {
	state.telemetry = telemetryservice.NewTelemetryService(telemetryservice.Options{
		Devices:   platformstorage.NewDeviceRepository(state.db),
		Readings:  platformstorage.NewReadingRepository(state.db),
		Latest:    state.latest,
		Publisher: state.bus,
		Logger:    state.logger,
		Metrics:   state.metrics,
	})
	return nil
}

func buildRouterStep(ctx context.Context, state *appState) error {
	cfg := state.config
	router, err := httptransport.Build(httptransport.Options{
		Config:  cfg,
		Logger:  state.logger,
		Metrics: state.metrics,
	})
	if err != nil {
		return err
	}

	router.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "not found", nil)
	})

	inspectionHTTP, err := httpinspection.NewService(httpinspection.Options{
		Pipeline:         state.pipeline,
		Inspector:        state.inspection,
		Logger:           state.logger,
		MaxUploadSize:    cfg.Intake.MaxFileSize,
		AnnotateQuality:  cfg.Intake.JPEGQuality,
		ProgressInterval: cfg.Inspection.ProgressInterval,
	})
	if err != nil {
		return err
	}

	telemetryHTTP, err := httptelemetry.NewService(httptelemetry.Options{
		Recorder: state.telemetry,
		APIKey:   cfg.IoT.APIKey,
		Tokens:   deviceTokens(cfg.Server.Auth),
		Logger:   state.logger,
	})
	if err != nil {
		return err
	}

	services := []interface {
		Register(context.Context, *gin.RouterGroup) error
	}{
		inspectionHTTP,
		telemetryHTTP,
		httpsystem.NewService(state.inspection, state.logger),
	}
	for _, svc := range services {
		if err := svc.Register(ctx, router.API); err != nil {
			return platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to register routes", err)
		}
	}

	state.router = router
	return nil
}

// deviceTokens returns the verifier for device bearer tokens, or nil when
// token auth is off.
func deviceTokens(cfg platformconfig.AuthConfig) *domainauth.AuthToken {
	if !cfg.Enabled || strings.TrimSpace(cfg.Secret) == "" {
		return nil
	}
	return domainauth.NewAuthToken(cfg.Secret).WithTTL(cfg.TokenTTL)
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	if state.router == nil {
		return nil, platformerrors.New(platformerrors.KindBootstrap, "http:start", "router not built")
	}
	cfg := state.config
	logger := state.logger

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port)),
		Handler:           state.router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on http://%s", httpServer.Addr)
		logger.InfoTag("HTTP", "inspection endpoint: http://%s/api/inspect-panel", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "server failed: %v", err)
			return platformerrors.Wrap(platformerrors.KindTransport, "http:serve", "listen failed", err)
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.InfoTag("Bootstrap", "shutting down: %v", context.Cause(ctx))
	case err := <-done:
		// The server exited on its own, which only happens on error.
		cancel()
		return err
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("Bootstrap", "shutdown timed out")
		return platformerrors.New(platformerrors.KindBootstrap, "shutdown", "timed out waiting for services")
	}
	return nil
}

// close releases whatever the init steps managed to build, in reverse order.
func (s *appState) close() {
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.latest != nil {
		if err := s.latest.Close(context.Background()); err != nil {
			s.logger.WarnTag("Cache", "close failed: %v", err)
		}
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil {
			s.logger.WarnTag("Bootstrap", "database close failed: %v", err)
		}
	}
	if s.provider != nil {
		_ = s.provider.Cleanup()
	}
	if s.observabilityShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(ctx); err != nil {
			s.logger.WarnTag("Bootstrap", "observability shutdown failed: %v", err)
		}
		cancel()
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}
