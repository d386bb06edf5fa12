package tasks

import (
	"context"
	"fmt"
	"time"
)

// newLogCleanupTask creates the scheduled task that prunes conversation
// logs older than the configured retention window.
func newLogCleanupTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "log_cleanup")

	return func(ctx context.Context) error {
		retentionDays := deps.Config.Scheduler.RetentionDays
		if retentionDays <= 0 {
			log.WarnContext(ctx, "Invalid retention configured, skipping cleanup", "retention_days", retentionDays)
			return nil
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		log.InfoContext(ctx, "Starting conversation log cleanup", "cutoff", cutoff, "retention_days", retentionDays)

		count, err := deps.Store.DeleteLogsBefore(ctx, cutoff)
		if err != nil {
			log.ErrorContext(ctx, "Log cleanup failed", "error", err)
			return fmt.Errorf("log cleanup failed: %w", err)
		}

		log.InfoContext(ctx, "Conversation log cleanup completed", "rows_removed", count)
		return nil
	}
}
