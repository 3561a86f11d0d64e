// Package collection keeps the emote directory in step with the external
// catalogs.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/metrics"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/catalog"
	"github.com/zentra/nbot/internal/services/synclog"
	"github.com/zentra/nbot/pkg/retry"
)

var ErrAlreadyRunning = errors.New("collection update already running")

const (
	jobName           = "collection"
	EventSyncComplete = "SYNC_COMPLETED"
)

// DirectoryStore is the subset of directory.Service the synchronizer writes to
type DirectoryStore interface {
	DeleteBySource(ctx context.Context, source models.EmoteSource) (int64, error)
	InsertMany(ctx context.Context, records []models.EmoteRecord) (inserted, duplicates int, err error)
}

// SyncLogStore is the subset of synclog.Service we depend on
type SyncLogStore interface {
	Get(ctx context.Context, key string) (*models.SyncLog, error)
	Record(ctx context.Context, key string, at time.Time, success bool) error
}

type Notifier interface {
	Publish(eventType string, payload any)
}

// CatalogReport summarizes one catalog's pass.
type CatalogReport struct {
	Source     models.EmoteSource `json:"source"`
	Deleted    int64              `json:"deleted"`
	Inserted   int                `json:"inserted"`
	Duplicates int                `json:"duplicates"`
	Pages      int                `json:"pages"`
	Error      string             `json:"error,omitempty"`
}

type Report struct {
	Job       string          `json:"job"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"duration"`
	Success   bool            `json:"success"`
	Catalogs  []CatalogReport `json:"catalogs"`
}

type Service struct {
	directory  DirectoryStore
	logs       SyncLogStore
	catalogs   []catalog.Catalog
	staleAfter time.Duration
	schedule   retry.Schedule
	metrics    *metrics.EmoterMetrics
	notifier   Notifier
	now        func() time.Time

	running sync.Mutex
}

type Option func(*Service)

func WithMetrics(m *metrics.EmoterMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(directory DirectoryStore, logs SyncLogStore, catalogs []catalog.Catalog, staleAfter time.Duration, schedule retry.Schedule, opts ...Option) *Service {
	s := &Service{
		directory:  directory,
		logs:       logs,
		catalogs:   catalogs,
		staleAfter: staleAfter,
		schedule:   schedule,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Due reports whether the directory should be refreshed now.
func (s *Service) Due(ctx context.Context) (bool, error) {
	entry, err := s.logs.Get(ctx, models.SyncKeyEmoteCollection)
	if err != nil {
		if errors.Is(err, synclog.ErrLogNotFound) {
			return true, nil
		}
		return false, err
	}

	now := s.now()
	if !entry.Success {
		return s.schedule.Due(entry.LastRun, entry.Failures, now), nil
	}
	return now.Sub(entry.LastRun) > s.staleAfter, nil
}

// CheckForUpdates runs Update when the last successful run is stale,
// the log is missing, or the last run failed and its backoff elapsed.
// It returns a nil report when nothing ran.
func (s *Service) CheckForUpdates(ctx context.Context) (*Report, error) {
	due, err := s.Due(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection sync log: %w", err)
	}
	if !due {
		log.Debug().Msg("Emote collection is up to date")
		return nil, nil
	}
	return s.Update(ctx)
}

// Update refreshes every catalog. A catalog that fails is abandoned for
// this run and the run is recorded as failed; the other catalogs still
// run.
func (s *Service) Update(ctx context.Context) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Unlock()

	report := &Report{Job: jobName, StartedAt: s.now()}
	log.Info().Int("catalogs", len(s.catalogs)).Msg("Updating emote collection")

	var errs []error
	for _, c := range s.catalogs {
		cr, err := s.updateCatalog(ctx, c)
		if err != nil {
			cr.Error = err.Error()
			errs = append(errs, err)
			log.Error().Err(err).Str("source", string(c.Source())).Msg("Catalog update failed")
		} else {
			log.Info().
				Str("source", string(c.Source())).
				Int("inserted", cr.Inserted).
				Int("duplicates", cr.Duplicates).
				Int("pages", cr.Pages).
				Msg("Catalog updated")
		}
		report.Catalogs = append(report.Catalogs, cr)
	}

	finished := s.now()
	report.Duration = finished.Sub(report.StartedAt)
	report.Success = len(errs) == 0

	if err := s.logs.Record(ctx, models.SyncKeyEmoteCollection, finished, report.Success); err != nil {
		errs = append(errs, err)
	}

	result := metrics.ResultSuccess
	if !report.Success {
		result = metrics.ResultError
	}
	s.metrics.RecordSync(jobName, result, report.Duration.Seconds())
	if s.notifier != nil {
		s.notifier.Publish(EventSyncComplete, report)
	}

	return report, errors.Join(errs...)
}

func (s *Service) updateCatalog(ctx context.Context, c catalog.Catalog) (CatalogReport, error) {
	cr := CatalogReport{Source: c.Source()}

	deleted, err := s.directory.DeleteBySource(ctx, c.Source())
	if err != nil {
		return cr, err
	}
	cr.Deleted = deleted

	err = c.Fetch(ctx, func(records []models.EmoteRecord) error {
		cr.Pages++
		inserted, duplicates, err := s.directory.InsertMany(ctx, records)
		cr.Inserted += inserted
		cr.Duplicates += duplicates
		return err
	})
	if err != nil {
		return cr, fmt.Errorf("%s: %w", c.Source(), err)
	}
	return cr, nil
}
