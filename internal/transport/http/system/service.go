// Package systemhttp reports host and service health.
package systemhttp

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"chartlens-server-go/internal/app/services"
	"chartlens-server-go/internal/platform/errors"
	"chartlens-server-go/internal/platform/logging"
	httptransport "chartlens-server-go/internal/transport/http"
)

// StatsSource supplies service counters.
type StatsSource interface {
	Stats(ctx context.Context) (services.ServiceStats, error)
}

// HostProbe reads host resource usage.
type HostProbe func(ctx context.Context) (HostStats, error)

// HostStats is the host section of the status payload.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	CPUCount      int     `json:"cpu_count"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
}

// StatusData is returned by GET /system/status.
type StatusData struct {
	Status        string                `json:"status"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Host          *HostStats            `json:"host,omitempty"`
	HostError     string                `json:"host_error,omitempty"`
	Service       services.ServiceStats `json:"service"`
}

// Service serves /system routes.
type Service struct {
	stats   StatsSource
	probe   HostProbe
	logger  *logging.Logger
	started time.Time
}

// NewService builds the status service. A nil probe uses gopsutil.
func NewService(stats StatsSource, probe HostProbe, logger *logging.Logger) (*Service, error) {
	if stats == nil {
		return nil, errors.New(errors.KindConfig, "systemhttp.new", "stats source is required")
	}
	if probe == nil {
		probe = ReadHostStats
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{stats: stats, probe: probe, logger: logger, started: time.Now()}, nil
}

// Register mounts the status route.
func (s *Service) Register(_ context.Context, router *gin.RouterGroup) error {
	router.GET("/system/status", s.handleStatus)
	return nil
}

// handleStatus reports host usage and service counters.
// @Summary System status
// @Tags System
// @Produce json
// @Success 200 {object} StatusData
// @Router /system/status [get]
func (s *Service) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	svcStats, err := s.stats.Stats(ctx)
	if err != nil {
		httptransport.RespondErr(c, err, "", nil)
		return
	}

	data := StatusData{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Service:       svcStats,
	}
	host, err := s.probe(ctx)
	if err != nil {
		s.logger.WarnTag("SYSTEM", "host stats unavailable: %v", err)
		data.HostError = err.Error()
	} else {
		data.Host = &host
	}

	httptransport.RespondSuccess(c, http.StatusOK, data, "")
}

// ReadHostStats samples CPU and memory usage through gopsutil.
func ReadHostStats(ctx context.Context) (HostStats, error) {
	stats := HostStats{Goroutines: runtime.NumGoroutine()}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, errors.Wrap(errors.KindPlatform, "systemhttp.cpu", "failed to read cpu usage", err)
	}
	if len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats.CPUCount = count
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, errors.Wrap(errors.KindPlatform, "systemhttp.mem", "failed to read memory usage", err)
	}
	stats.MemoryTotal = vm.Total
	stats.MemoryUsed = vm.Used
	stats.MemoryPercent = vm.UsedPercent
	return stats, nil
}
