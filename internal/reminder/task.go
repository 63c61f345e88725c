package reminder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/store"
)

// DeliverFunc performs the outward notification for a reminder.
type DeliverFunc func(ctx context.Context, r store.Reminder) error

// DeliverFactory rebuilds a delivery callback from a stored row after a restart.
// It returns nil when the row cannot be delivered anymore.
type DeliverFactory func(r store.Reminder) DeliverFunc

// TrackedTask wraps deliver so that the row always reaches a terminal status:
// sent on success, cancelled on error or panic. Delivery errors are logged, not returned.
// A row that was already cancelled or sent by someone else keeps its status.
func TrackedTask(repo store.ReminderRepository, logger *slog.Logger, key string, r store.Reminder, deliver DeliverFunc) func(context.Context) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("partition", key, "reminder_id", r.ID)

	return func(ctx context.Context) {
		status := store.StatusSent
		if err := safeDeliver(ctx, r, deliver); err != nil {
			status = store.StatusCancelled
			logger.Error("reminder delivery failed", "error", &DeliveryError{ReminderID: r.ID, Err: err})
		}

		// The terminal status is recorded even if the delivery context was cancelled.
		ok, err := repo.CompleteReminder(context.WithoutCancel(ctx), r.ID, status)
		if err != nil {
			logger.Error("failed to record reminder outcome", "status", status, "error", err)
			return
		}
		if !ok {
			logger.Warn("reminder already finished elsewhere", "status", status)
			return
		}
		logger.Info("reminder finished", "status", status)
	}
}

func safeDeliver(ctx context.Context, r store.Reminder, deliver DeliverFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return deliver(ctx, r)
}
