// Package synclog records when each background synchronizer last ran.
package synclog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zentra/nbot/internal/models"
)

var ErrLogNotFound = errors.New("sync log not found")

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) Get(ctx context.Context, key string) (*models.SyncLog, error) {
	var l models.SyncLog
	err := s.db.QueryRow(ctx,
		`SELECT key, last_run, success, failures FROM sync_logs WHERE key = $1`, key,
	).Scan(&l.Key, &l.LastRun, &l.Success, &l.Failures)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLogNotFound
		}
		return nil, fmt.Errorf("failed to read sync log: %w", err)
	}
	return &l, nil
}

// Record stores the outcome of a run. A success resets the failure
// streak, a failure extends it.
func (s *Service) Record(ctx context.Context, key string, at time.Time, success bool) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO sync_logs (key, last_run, success, failures)
		 VALUES ($1, $2, $3, CASE WHEN $3 THEN 0 ELSE 1 END)
		 ON CONFLICT (key) DO UPDATE SET
		   last_run = EXCLUDED.last_run,
		   success  = EXCLUDED.success,
		   failures = CASE WHEN EXCLUDED.success THEN 0 ELSE sync_logs.failures + 1 END`,
		key, at, success,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync log: %w", err)
	}
	return nil
}
