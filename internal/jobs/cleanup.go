package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"qrclinic/internal/config"
	"qrclinic/internal/events"
)

const cleanupBatchSize = 1000

var deleteDemoBatchSQL = fmt.Sprintf(`
    DELETE FROM %[1]s WHERE id IN (
        SELECT id FROM %[1]s
        WHERE is_demo = ? AND timestamp < ?
        LIMIT ?
    )`, events.CompletionEvent{}.TableName())

// DemoCleanupJob removes demo completion events once they are older than
// the retention period. Demo rows never count in stats; they only exist so
// clinics can try the quiz.
type DemoCleanupJob struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cfg       *config.Config
	now       func() time.Time
}

func NewDemoCleanupJob(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *DemoCleanupJob {
	return &DemoCleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run deletes expired demo events in batches and returns how many went.
func (j *DemoCleanupJob) Run() (int64, error) {
	retentionDays := j.cfg.DemoEventsRetentionDays
	if retentionDays <= 0 {
		j.logger.Debug("Demo event cleanup disabled")
		return 0, nil
	}

	db := j.dbManager.GetConnection()
	cutoff := j.now().UTC().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting cleanup of old demo events",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoff))

	var totalDeleted int64
	for {
		// SQLite has no DELETE ... LIMIT by default, so batch through ids
		result := db.Exec(deleteDemoBatchSQL, true, cutoff, cleanupBatchSize)
		if result.Error != nil {
			j.logger.Error("Failed to delete old demo events",
				slog.Any("error", result.Error),
				slog.Int64("deleted_so_far", totalDeleted))
			return totalDeleted, fmt.Errorf("failed to delete demo events: %w", result.Error)
		}

		totalDeleted += result.RowsAffected
		if result.RowsAffected < cleanupBatchSize {
			break
		}
	}

	if totalDeleted == 0 {
		j.logger.Debug("No old demo events to clean up")
		return 0, nil
	}

	j.logger.Info("Cleaned up old demo events",
		slog.Int64("deleted_count", totalDeleted),
		slog.Int("retention_days", retentionDays))
	return totalDeleted, nil
}
