package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// MinFreeDiskBytes is the free space below which maintenance fails.
// VACUUM INTO staging needs room for a full copy of every database.
const MinFreeDiskBytes uint64 = 500 * 1024 * 1024

// DiskUsageFunc reports free bytes on the filesystem holding path
type DiskUsageFunc func(ctx context.Context, path string) (uint64, error)

// MaintenanceJob checks integrity and checkpoints the WAL of every database
type MaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	diskUsage DiskUsageFunc
	log       zerolog.Logger
}

// NewMaintenanceJob creates the maintenance job
func NewMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		diskUsage: freeDiskBytes,
		log:       log.With().Str("job", "database_maintenance").Logger(),
	}
}

// SetDiskUsage overrides how free disk space is measured
func (j *MaintenanceJob) SetDiskUsage(fn DiskUsageFunc) {
	j.diskUsage = fn
}

// Name returns the job name for the scheduler
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance pass.
// A failed integrity check or critically low disk space fails the job; a failed checkpoint is only logged.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	j.log.Info().Msg("Starting database maintenance")
	startTime := time.Now()

	names := make([]string, 0, len(j.databases))
	for name := range j.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := j.databases[name]

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Str("database", name).Err(err).Msg("Integrity check failed")
			return fmt.Errorf("failed integrity check for %s: %w", name, err)
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Str("database", name).Err(err).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(ctx); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Int("databases", len(names)).
		Msg("Database maintenance completed")

	return nil
}

func (j *MaintenanceJob) checkDiskSpace(ctx context.Context) error {
	free, err := j.diskUsage(ctx, j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage: %w", err)
	}

	freeGB := float64(free) / 1e9
	j.log.Debug().Float64("available_gb", freeGB).Msg("Disk space check")

	if free < MinFreeDiskBytes {
		j.log.Error().Float64("available_gb", freeGB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", freeGB, j.dataDir)
	}
	if freeGB < 5.0 {
		j.log.Warn().Float64("available_gb", freeGB).Msg("Disk space running low")
	}

	return nil
}

func freeDiskBytes(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
