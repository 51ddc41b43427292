package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/qerplab/qerp/internal/database"
	"github.com/qerplab/qerp/internal/domain"
)

// RunCounter yields run counts per lifecycle state. *results.Service
// satisfies it.
type RunCounter interface {
	CountRunsByStatus() (map[domain.RunStatus]int, error)
}

// InFlightLister reports the ids of runs currently executing.
// *work.Processor satisfies it.
type InFlightLister interface {
	InFlight() []string
}

// SystemHandlers handles system-wide monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	backendKind string
	startupTime time.Time
	databases   map[string]*database.DB
	runs        RunCounter
	processor   InFlightLister
}

// NewSystemHandlers creates a new system handlers instance.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	backendKind string,
	databases map[string]*database.DB,
	runs RunCounter,
	processor InFlightLister,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		backendKind: backendKind,
		startupTime: time.Now(),
		databases:   databases,
		runs:        runs,
		processor:   processor,
	}
}

// HandleSystemStatus returns process health, resource usage and the run
// queue picture.
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()

	runCounts := map[string]int{}
	if h.runs != nil {
		counts, err := h.runs.CountRunsByStatus()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to count runs by status")
		} else {
			for status, n := range counts {
				runCounts[string(status)] = n
			}
		}
	}

	inFlight := []string{}
	if h.processor != nil {
		if ids := h.processor.InFlight(); ids != nil {
			inFlight = ids
		}
	}

	response := map[string]interface{}{
		"status":         "running",
		"backend":        h.backendKind,
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"cpu_percent":    cpuPercent,
		"memory_percent": memPercent,
		"goroutines":     runtime.NumGoroutine(),
		"runs":           runCounts,
		"in_flight":      inFlight,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// DBInfo describes one database file.
type DBInfo struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistCount int64   `json:"freelist_count"`
}

// DatabaseStatsResponse is the GET /api/system/database/stats payload.
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	LastChecked string   `json:"last_checked"`
}

// HandleDatabaseStats returns per-database size and page statistics.
// GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	databases := []DBInfo{}
	totalSizeMB := 0.0

	for _, name := range names {
		db := h.databases[name]
		if db == nil {
			continue
		}

		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to collect database stats")
			continue
		}

		sizeMB := float64(stats.SizeBytes) / 1024 / 1024
		totalSizeMB += sizeMB

		databases = append(databases, DBInfo{
			Name:          name,
			Path:          db.Path(),
			SizeMB:        sizeMB,
			WALSizeMB:     float64(stats.WALSizeBytes) / 1024 / 1024,
			PageCount:     stats.PageCount,
			FreelistCount: stats.FreelistCount,
		})
	}

	response := DatabaseStatsResponse{
		Databases:   databases,
		TotalSizeMB: totalSizeMB,
		LastChecked: time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// DiskUsageResponse is the GET /api/system/disk payload. Artifacts live
// under the data directory, so artifacts_mb is a subset of data_dir_mb.
type DiskUsageResponse struct {
	DataDirMB   float64 `json:"data_dir_mb"`
	ArtifactsMB float64 `json:"artifacts_mb"`
}

// HandleDiskUsage returns disk usage statistics.
// GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting disk usage")

	response := DiskUsageResponse{
		DataDirMB:   h.getDirSize(h.dataDir),
		ArtifactsMB: h.getDirSize(filepath.Join(h.dataDir, "artifacts")),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a shorter interval (100ms) for faster response while still providing accurate readings
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// Get CPU percentage (average across all CPUs, over 100ms for faster response)
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	// Get memory statistics (instant, no blocking)
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
