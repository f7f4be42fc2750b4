package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/gophvault/internal/metrics"
)

// PurgeSoftDeleted permanently removes credentials soft-deleted before the
// given time and reports how many rows went away.
func PurgeSoftDeleted(ctx context.Context, db *sql.DB, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM credentials WHERE deleted = true AND deleted_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("purge soft-deleted credentials: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge soft-deleted credentials: %w", err)
	}
	return n, nil
}

// StartSoftDeleteCleaner runs PurgeSoftDeleted every interval with a cutoff
// of now minus retention, until ctx is done. m may be nil.
func StartSoftDeleteCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
	m *metrics.Metrics,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rows, err := PurgeSoftDeleted(ctx, db, now.Add(-retention))
				if err != nil {
					log.Error("failed to clean soft-deleted credentials", zap.Error(err))
					continue
				}
				if rows > 0 {
					m.Purged(rows)
					log.Info("cleaned soft-deleted credentials",
						zap.Int64("removed", rows),
						zap.Duration("retention", retention),
					)
				}
			}
		}
	}()
}
