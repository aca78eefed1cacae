package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	gocpu "github.com/shirou/gopsutil/v4/cpu"
	gomem "github.com/shirou/gopsutil/v4/mem"
)

const healthCheckTimeout = 3 * time.Second

var (
	virtualMemory = gomem.VirtualMemoryWithContext
	cpuPercent    = gocpu.PercentWithContext
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	System        SystemStats       `json:"system"`
	StreamClients int               `json:"stream_clients"`
}

// SystemStats are host and process figures reported by /health.
type SystemStats struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	CPUPercent        float64 `json:"cpu_percent"`
	Goroutines        int     `json:"goroutines"`
	HeapAllocBytes    uint64  `json:"heap_alloc_bytes"`
}

// handleHealth pings the graph and license stores. Any failing check makes
// the response 503 so load balancers stop routing here.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "healthy",
		Version:       r.deps.Version,
		UptimeSeconds: time.Since(r.startTime).Seconds(),
		Checks:        make(map[string]string, 2),
		System:        systemStats(ctx),
	}
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			return
		}
		resp.Checks[name] = "ok"
	}
	check("graph_store", r.deps.Graphs.Ping)
	check("license_store", r.deps.Licenses.Store().Ping)
	if r.deps.Hub != nil {
		resp.StreamClients = r.deps.Hub.ClientCount("")
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, req, status, resp)
}

// systemStats collects best-effort host figures; collection failures leave
// zeros.
func systemStats(ctx context.Context) SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats := SystemStats{Goroutines: runtime.NumGoroutine(), HeapAllocBytes: ms.HeapAlloc}

	if vm, err := virtualMemory(ctx); err == nil && vm != nil {
		stats.MemoryUsedPercent = vm.UsedPercent
	}
	// Zero interval compares against the previous call instead of sleeping.
	if pct, err := cpuPercent(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	return stats
}
