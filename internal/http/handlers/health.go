package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/abrplay/internal/player"
	"github.com/jmylchreest/abrplay/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *store.DB
	pool      *player.Pool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database checked by readiness and health.
func (h *HealthHandler) WithDB(db *store.DB) *HealthHandler {
	h.db = db
	return h
}

// WithPool sets the session pool reported by health.
func (h *HealthHandler) WithPool(pool *player.Pool) *HealthHandler {
	h.pool = pool
	return h
}

// CPUInfo reports load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports system and process memory.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
	HeapAllocMB       float64 `json:"heap_alloc_mb"`
	Goroutines        int     `json:"goroutines"`
}

// DatabaseHealth reports the history store.
type DatabaseHealth struct {
	Status            string  `json:"status"`
	Driver            string  `json:"driver,omitempty"`
	ResponseTimeMS    float64 `json:"response_time_ms,omitempty"`
	ActiveConnections int     `json:"active_connections,omitempty"`
	IdleConnections   int     `json:"idle_connections,omitempty"`
}

// HealthResponse is the full health report.
type HealthResponse struct {
	Status         string            `json:"status"`
	Timestamp      string            `json:"timestamp"`
	Version        string            `json:"version"`
	Uptime         string            `json:"uptime"`
	UptimeSeconds  float64           `json:"uptime_seconds"`
	CPUInfo        CPUInfo           `json:"cpu_info"`
	Memory         MemoryInfo        `json:"memory"`
	Database       DatabaseHealth    `json:"database"`
	ActiveSessions int               `json:"active_sessions"`
	Checks         map[string]string `json:"checks"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// ProbeResponse answers liveness and readiness probes.
type ProbeResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// ProbeOutput wraps ProbeResponse.
type ProbeOutput struct {
	Body ProbeResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      http.MethodGet,
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      http.MethodGet,
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)
	db := h.getDatabaseHealth(ctx)

	status := "healthy"
	if db.Status == "error" {
		status = "degraded"
	}
	sessions := 0
	if h.pool != nil {
		sessions = h.pool.Len()
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:         status,
			Timestamp:      now.UTC().Format(time.RFC3339),
			Version:        h.version,
			Uptime:         uptime.Round(time.Second).String(),
			UptimeSeconds:  uptime.Seconds(),
			CPUInfo:        h.getCPUInfo(ctx),
			Memory:         h.getMemoryInfo(ctx),
			Database:       db,
			ActiveSessions: sessions,
			Checks: map[string]string{
				"database": db.Status,
			},
		},
	}, nil
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(_ context.Context, _ *struct{}) (*ProbeOutput, error) {
	return &ProbeOutput{Body: ProbeResponse{Status: "ok"}}, nil
}

// GetReadyz reports whether the history store answers.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *struct{}) (*ProbeOutput, error) {
	db := h.getDatabaseHealth(ctx)
	status := "ready"
	if db.Status == "error" {
		status = "not_ready"
	}
	return &ProbeOutput{Body: ProbeResponse{
		Status:     status,
		Components: map[string]string{"database": db.Status},
	}}, nil
}

func (h *HealthHandler) getCPUInfo(ctx context.Context) CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	avg, err := load.AvgWithContext(ctx)
	if err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(cores) * 100
		}
	}
	return info
}

func (h *HealthHandler) getMemoryInfo(ctx context.Context) MemoryInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info := MemoryInfo{
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		Goroutines:  runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vm.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vm.Available) / 1024 / 1024
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if pm, err := proc.MemoryInfoWithContext(ctx); err == nil && pm != nil {
			info.ProcessMemoryMB = float64(pm.RSS) / 1024 / 1024
		}
	}
	return info
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "not_configured"}
	}
	health := DatabaseHealth{Status: "ok", Driver: h.db.Driver()}

	start := time.Now()
	err := h.db.Ping(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
		return health
	}
	if sqlDB, err := h.db.DB.DB(); err == nil {
		stats := sqlDB.Stats()
		health.ActiveConnections = stats.InUse
		health.IdleConnections = stats.Idle
	}
	return health
}
