package system

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	gocpu "github.com/shirou/gopsutil/v3/cpu"
	gomem "github.com/shirou/gopsutil/v3/mem"

	"sunforge-server/internal/platform/logging"
	httptransport "sunforge-server/internal/transport/http"
)

// Swapped out in tests.
var (
	cpuPercent    = gocpu.PercentWithContext
	virtualMemory = gomem.VirtualMemoryWithContext
)

// InspectionStats exposes the inspection service counters.
type InspectionStats interface {
	Provider() string
	Inflight() int64
}

// Status is the payload of GET /api/system/status.
type Status struct {
	UptimeSeconds       int64   `json:"uptime_seconds"`
	CPUPercent          float64 `json:"cpu_percent"`
	MemoryPercent       float64 `json:"memory_percent"`
	MemoryUsedBytes     uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes    uint64  `json:"memory_total_bytes"`
	Goroutines          int     `json:"goroutines"`
	Provider            string  `json:"provider"`
	InflightInspections int64   `json:"inflight_inspections"`
}

type Service struct {
	inspection InspectionStats
	logger     *logging.Logger
	startedAt  time.Time
	now        func() time.Time
}

func NewService(inspection InspectionStats, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return &Service{
		inspection: inspection,
		logger:     logger,
		startedAt:  time.Now(),
		now:        time.Now,
	}
}

func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.GET("/system/status", s.handleStatus)
	return nil
}

func (s *Service) handleStatus(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, s.Collect(c.Request.Context()), "")
}

// Collect samples host usage. Samplers that fail leave their fields zero.
func (s *Service) Collect(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := Status{
		UptimeSeconds: int64(s.now().Sub(s.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}
	if s.inspection != nil {
		st.Provider = s.inspection.Provider()
		st.InflightInspections = s.inspection.Inflight()
	}

	if pct, err := cpuPercent(ctx, 200*time.Millisecond, false); err == nil && len(pct) > 0 {
		st.CPUPercent = min(max(pct[0], 0), 100)
	} else if err != nil {
		s.logger.DebugTag("System", "cpu sample failed: %v", err)
	}

	if vm, err := virtualMemory(ctx); err == nil {
		st.MemoryPercent = vm.UsedPercent
		st.MemoryUsedBytes = vm.Used
		st.MemoryTotalBytes = vm.Total
	} else {
		s.logger.DebugTag("System", "memory sample failed: %v", err)
	}
	return st
}
