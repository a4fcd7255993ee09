package tasks

import (
	"context"

	"github.com/updatekit/updatekit/internal/history"
	"github.com/updatekit/updatekit/internal/scheduler"
)

const HistoryCleanupTaskID = "history-cleanup"

// RegisterHistoryCleanupTask registers the history cleanup task with the scheduler.
// The task runs daily at 2 AM and deletes records older than retentionDays.
func RegisterHistoryCleanupTask(sched *scheduler.Scheduler, historyService *history.Service, retentionDays int) error {
	return sched.RegisterTask(&scheduler.TaskConfig{
		ID:          HistoryCleanupTaskID,
		Name:        "History Cleanup",
		Description: "Deletes history records older than the retention period",
		Cron:        "0 2 * * *",
		Func: func(ctx context.Context) error {
			_, err := historyService.Cleanup(ctx, retentionDays)
			return err
		},
	})
}
