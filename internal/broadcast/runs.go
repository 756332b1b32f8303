package broadcast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/formbot/core/logger"
)

// RunStore records which days a job already ran, shared by every bot process.
type RunStore struct {
	db *sqlx.DB
}

func NewRunStore(db *sqlx.DB) *RunStore { return &RunStore{db: db} }

// Claim implements scheduler.Claimer. The first caller for (job, day) wins.
func (s *RunStore) Claim(ctx context.Context, job, day string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO broadcast_runs (job, run_date) VALUES (?, ?) ON CONFLICT (job, run_date) DO NOTHING`),
		job, day,
	)
	if err != nil {
		return false, fmt.Errorf("broadcast: claim %s/%s: %w", job, day, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("broadcast: claim %s/%s: %w", job, day, err)
	}
	logger.LogEvent(ctx, logger.BCAST, slog.LevelDebug, "broadcast.claim",
		slog.String("job", job),
		slog.String("date", day),
		slog.Bool("won", n == 1),
	)
	return n == 1, nil
}
