package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
)

// LockChecker reports the current holder of the cross-process run lock
type LockChecker interface {
	Check() (*rebalancing.LockInfo, error)
}

// JobLister lists the scheduled job names
type JobLister interface {
	Jobs() []string
}

// SystemHandlers contains system-related HTTP handlers
type SystemHandlers struct {
	databases map[string]*database.DB
	lock      LockChecker
	jobs      JobLister
	startedAt time.Time
	version   string
	log       zerolog.Logger
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	version string,
	databases map[string]*database.DB,
	lock LockChecker,
	jobs JobLister,
) *SystemHandlers {
	return &SystemHandlers{
		databases: databases,
		lock:      lock,
		jobs:      jobs,
		startedAt: time.Now(),
		version:   version,
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// DatabaseStatus is the size report of one database
type DatabaseStatus struct {
	*database.Stats
	Error string `json:"error,omitempty"`
}

// SystemStatusResponse represents the system status response
type SystemStatusResponse struct {
	StartedAt         time.Time                 `json:"started_at"`
	RebalanceLock     *rebalancing.LockInfo     `json:"rebalance_lock"`
	Databases         map[string]DatabaseStatus `json:"databases"`
	Status            string                    `json:"status"`
	Version           string                    `json:"version"`
	ScheduledJobs     []string                  `json:"scheduled_jobs"`
	UptimeSeconds     int64                     `json:"uptime_seconds"`
	HostUptimeSeconds uint64                    `json:"host_uptime_seconds"`
	CPUPercent        float64                   `json:"cpu_percent"`
	RAMPercent        float64                   `json:"ram_percent"`
}

// HandleSystemStatus returns process, host and database status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.getSystemStats()

	hostUptime, err := host.Uptime()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get host uptime")
	}

	response := SystemStatusResponse{
		Status:            "healthy",
		Version:           h.version,
		StartedAt:         h.startedAt,
		UptimeSeconds:     int64(time.Since(h.startedAt).Seconds()),
		HostUptimeSeconds: hostUptime,
		CPUPercent:        cpuPercent,
		RAMPercent:        ramPercent,
		Databases:         h.databaseStatus(),
		ScheduledJobs:     []string{},
	}

	for _, status := range response.Databases {
		if status.Error != "" {
			response.Status = "degraded"
		}
	}

	if h.jobs != nil {
		response.ScheduledJobs = h.jobs.Jobs()
		sort.Strings(response.ScheduledJobs)
	}

	if h.lock != nil {
		info, err := h.lock.Check()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to read run lock")
		}
		response.RebalanceLock = info
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}

func (h *SystemHandlers) databaseStatus() map[string]DatabaseStatus {
	statuses := make(map[string]DatabaseStatus, len(h.databases))
	for name, db := range h.databases {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			statuses[name] = DatabaseStatus{Error: err.Error()}
			continue
		}
		statuses[name] = DatabaseStatus{Stats: stats}
	}
	return statuses
}

// getSystemStats calculates CPU and RAM usage percentages.
// The CPU sample window is 100ms so the request stays fast.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
