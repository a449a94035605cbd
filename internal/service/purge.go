package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/cohort-sms/internal/repo"
)

// NewPurgeJob returns a job that permanently removes people soft-deleted
// more than retention ago.
func NewPurgeJob(purger repo.Purger, retention time.Duration, now func() time.Time, log *slog.Logger) func(context.Context) error {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context) error {
		cutoff := now().Add(-retention)
		n, err := purger.PurgeDeleted(ctx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("purged deleted people", "count", n, "deleted_before", cutoff)
		}
		return nil
	}
}
