package telemetry

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	domainauth "sunforge-server/internal/domain/auth"
	"sunforge-server/internal/domain/telemetry/aggregate"
	telemetryservice "sunforge-server/internal/domain/telemetry/service"
	"sunforge-server/internal/platform/errors"
	"sunforge-server/internal/platform/logging"
	httptransport "sunforge-server/internal/transport/http"
)

const maxIngestBody = 64 * 1024

// Recorder is the telemetry domain as seen by the HTTP layer.
type Recorder interface {
	InsertReading(ctx context.Context, in aggregate.ReadingInput) (*aggregate.Reading, error)
	ListDevices(ctx context.Context) ([]telemetryservice.DeviceView, error)
	Readings(ctx context.Context, deviceID string, limit int) ([]*aggregate.Reading, error)
}

type Options struct {
	Recorder Recorder
	// APIKey is the shared ingest key. Empty disables key auth.
	APIKey string
	// Tokens verifies device bearer tokens. Nil disables token auth.
	Tokens *domainauth.AuthToken
	Logger *logging.Logger
}

// Service is the HTTP transport for device telemetry.
type Service struct {
	recorder Recorder
	apiKey   string
	tokens   *domainauth.AuthToken
	logger   *logging.Logger
}

func NewService(opts Options) (*Service, error) {
	if opts.Recorder == nil {
		return nil, errors.New(errors.KindConfig, "telemetry_http.new", "telemetry recorder is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger
	}
	if opts.APIKey == "" && opts.Tokens == nil {
		opts.Logger.WarnTag("Telemetry", "no IoT API key or device token secret configured; ingest will reject every request")
	}
	return &Service{
		recorder: opts.Recorder,
		apiKey:   opts.APIKey,
		tokens:   opts.Tokens,
		logger:   opts.Logger,
	}, nil
}

func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.POST("/iot-ingest", s.handleIngest)
	router.GET("/devices", s.handleListDevices)
	router.GET("/devices/:id/readings", s.handleReadings)

	s.logger.InfoTag("HTTP", "telemetry routes registered")
	return nil
}

func (s *Service) handleIngest(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIngestBody))
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "failed to read request body", nil)
		return
	}

	var in aggregate.ReadingInput
	if err := sonic.Unmarshal(raw, &in); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}

	if !s.authorized(c, strings.TrimSpace(in.DeviceID)) {
		httptransport.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	reading, err := s.recorder.InsertReading(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, aggregate.ErrDeviceIDRequired) || errors.Is(err, aggregate.ErrNonFiniteValue) {
			httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		s.logger.ErrorTag("Telemetry", "ingest for %s failed: %v", in.DeviceID, err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to store reading", nil)
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, reading, "reading stored")
}

// authorized accepts the shared API key, or a device token issued for the
// device named in the body.
func (s *Service) authorized(c *gin.Context, deviceID string) bool {
	if key := c.GetHeader("X-API-Key"); key != "" && s.apiKey != "" {
		return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
	}

	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || s.tokens == nil {
		return false
	}
	valid, tokenDevice, err := s.tokens.VerifyToken(strings.TrimSpace(token))
	if err != nil || !valid {
		s.logger.DebugTag("Telemetry", "device token rejected: %v", err)
		return false
	}
	if deviceID != "" && tokenDevice != deviceID {
		s.logger.WarnTag("Telemetry", "token for %s used to report as %s", tokenDevice, deviceID)
		return false
	}
	return true
}

func (s *Service) handleListDevices(c *gin.Context) {
	devices, err := s.recorder.ListDevices(c.Request.Context())
	if err != nil {
		s.logger.ErrorTag("Telemetry", "list devices failed: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to list devices", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, devices, "")
}

func (s *Service) handleReadings(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httptransport.RespondError(c, http.StatusBadRequest, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	readings, err := s.recorder.Readings(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.logger.ErrorTag("Telemetry", "readings for %s failed: %v", c.Param("id"), err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to load readings", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, readings, "")
}
