package httptransport

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"sunforge-server/internal/platform/config"
	"sunforge-server/internal/platform/logging"
	"sunforge-server/internal/platform/observability"
)

// Options configures the HTTP router builder.
type Options struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Router bundles together the gin engine and common route groups.
type Router struct {
	Engine *gin.Engine
	API    *gin.RouterGroup
}

// Build constructs a gin engine pre-configured with logging, recovery, CORS
// and metrics middlewares.
func Build(opts Options) (*Router, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("http router requires config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.DefaultLogger
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.Default()
	}

	if strings.EqualFold(opts.Config.Log.Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(loggingMiddleware(logger))
	engine.Use(observabilityMiddleware(metrics))

	_ = engine.SetTrustedProxies(nil)

	engine.Use(cors.New(corsConfig(opts.Config.Web.Origins)))

	if dir := opts.Config.Web.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			engine.Use(static.Serve("/", static.LocalFile(dir, true)))
		} else {
			logger.DebugTag("HTTP", "static dir %q not found, dashboard disabled", dir)
		}
	}

	if opts.Config.Metrics.Enabled {
		path := opts.Config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		engine.GET(path, gin.WrapH(metrics.Handler()))
	}

	return &Router{
		Engine: engine,
		API:    engine.Group("/api"),
	}, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"X-API-Key",
			HeaderRequestID,
		},
		ExposeHeaders: []string{"Content-Length", HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info(
			"[HTTP] %s %s -> %d (%s) id=%s",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
			c.GetString(requestIDKey),
		)
	}
}

func observabilityMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		reqCtx, spanEnd := observability.StartSpan(c.Request.Context(), "http.server", path,
			slog.String("method", c.Request.Method))
		c.Request = c.Request.WithContext(reqCtx)

		c.Next()

		status := c.Writer.Status()
		var spanErr error
		if len(c.Errors) > 0 {
			spanErr = c.Errors.Last().Err
		} else if status >= http.StatusInternalServerError {
			spanErr = fmt.Errorf("status %d", status)
		}
		spanEnd(spanErr)

		metrics.RecordHTTPRequest(c.Request.Method, path, status)
	}
}
