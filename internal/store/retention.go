package store

// retention.go deletes archived runs older than the retention window.
//
// The job runs once on start and then every CheckInterval until ctx ends.
// A failed pass is logged and retried on the next tick; it never stops the
// server. Items go with their run through ON DELETE CASCADE.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/gulprep/internal/config"
)

// StartRetention blocks, purging expired runs periodically until ctx is
// cancelled. It returns immediately when RetentionDays is zero.
func (s *Store) StartRetention(ctx context.Context, cfg config.ArchiveConfig) {
	if cfg.RetentionDays <= 0 {
		slog.Info("archive retention disabled")
		return
	}

	slog.Info("archive retention started",
		"retention_days", cfg.RetentionDays,
		"batch_size", cfg.BatchSize,
		"check_interval", cfg.CheckInterval,
	)

	s.runRetention(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("archive retention stopped")
			return
		case <-ticker.C:
			s.runRetention(ctx, cfg)
		}
	}
}

func (s *Store) runRetention(ctx context.Context, cfg config.ArchiveConfig) {
	start := time.Now()
	purged, err := s.PurgeRuns(ctx, cfg.RetentionDays, cfg.BatchSize)
	if err != nil {
		slog.Error("archive purge failed", "error", err, "runs_purged", purged)
		return
	}
	slog.Info("purged archived runs",
		"runs_purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// PurgeRuns deletes runs started more than days ago, batchSize runs per
// statement, and returns how many were deleted.
func (s *Store) PurgeRuns(ctx context.Context, days, batchSize int) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		tag, err := s.db.Exec(ctx, `
			DELETE FROM gul_runs
			WHERE run_id IN (
				SELECT run_id FROM gul_runs
				WHERE started_at < now() - make_interval(days => $1)
				LIMIT $2
			)`, int32(days), int32(batchSize))
		if err != nil {
			return total, fmt.Errorf("purge runs: %w", err)
		}

		n := tag.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}
