package emotecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/metrics"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/synclog"
	"github.com/zentra/nbot/pkg/retry"
)

var ErrAlreadyRunning = errors.New("cache update already running")

const (
	jobName           = "cache"
	EventSyncComplete = "SYNC_COMPLETED"
)

type UsageRanker interface {
	Top(ctx context.Context, n int) ([]models.UsageCount, error)
}

type DirectoryReader interface {
	FindByNames(ctx context.Context, names []string) (map[string]models.EmoteRecord, error)
}

type SyncLogStore interface {
	Get(ctx context.Context, key string) (*models.SyncLog, error)
	Record(ctx context.Context, key string, at time.Time, success bool) error
}

type SyncConfig struct {
	TopN        int
	SliceBudget int
	StaleAfter  time.Duration
	Schedule    retry.Schedule
}

type SyncReport struct {
	Job       string        `json:"job"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Purged    int           `json:"purged"`
	Uploaded  []string      `json:"uploaded"`
	Failed    []string      `json:"failed,omitempty"`
	Slices    int           `json:"slices"`
}

// Synchronizer refills the cache guild with the most used emotes.
type Synchronizer struct {
	cache     *Cache
	usage     UsageRanker
	directory DirectoryReader
	logs      SyncLogStore
	cfg       SyncConfig
	metrics   *metrics.EmoterMetrics
	notifier  Notifier
	now       func() time.Time

	running sync.Mutex
}

func NewSynchronizer(cache *Cache, usage UsageRanker, directory DirectoryReader, logs SyncLogStore, cfg SyncConfig) *Synchronizer {
	return &Synchronizer{
		cache:     cache,
		usage:     usage,
		directory: directory,
		logs:      logs,
		cfg:       cfg,
		metrics:   cache.metrics,
		notifier:  cache.notifier,
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (s *Synchronizer) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Synchronizer) Due(ctx context.Context) (bool, error) {
	entry, err := s.logs.Get(ctx, models.SyncKeyCache)
	if err != nil {
		if errors.Is(err, synclog.ErrLogNotFound) {
			return true, nil
		}
		return false, err
	}

	now := s.now()
	if !entry.Success {
		return s.cfg.Schedule.Due(entry.LastRun, entry.Failures, now), nil
	}
	return now.Sub(entry.LastRun) > s.cfg.StaleAfter, nil
}

// CheckForUpdates runs Update when the cache is stale or the last run
// failed and its backoff elapsed. It returns a nil report when nothing ran.
func (s *Synchronizer) CheckForUpdates(ctx context.Context) (*SyncReport, error) {
	due, err := s.Due(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache sync log: %w", err)
	}
	if !due {
		return nil, nil
	}
	return s.Update(ctx)
}

// Update purges the guild and uploads the top emotes by usage until the
// slice budget is spent.
func (s *Synchronizer) Update(ctx context.Context) (*SyncReport, error) {
	if !s.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Unlock()

	report := &SyncReport{Job: jobName, StartedAt: s.now()}
	err := s.update(ctx, report)

	finished := s.now()
	report.Duration = finished.Sub(report.StartedAt)
	report.Success = err == nil

	if recErr := s.logs.Record(ctx, models.SyncKeyCache, finished, report.Success); recErr != nil {
		err = errors.Join(err, recErr)
	}

	result := metrics.ResultSuccess
	if !report.Success {
		result = metrics.ResultError
	}
	s.metrics.RecordSync(jobName, result, report.Duration.Seconds())
	if s.notifier != nil {
		s.notifier.Publish(EventSyncComplete, report)
	}

	log.Info().
		Int("uploaded", len(report.Uploaded)).
		Int("failed", len(report.Failed)).
		Int("slices", report.Slices).
		Bool("success", report.Success).
		Msg("Cache update finished")
	return report, err
}

func (s *Synchronizer) update(ctx context.Context, report *SyncReport) error {
	top, err := s.usage.Top(ctx, s.cfg.TopN)
	if err != nil {
		return err
	}

	names := make([]string, len(top))
	for i, u := range top {
		names[i] = u.Name
	}
	records, err := s.directory.FindByNames(ctx, names)
	if err != nil {
		return err
	}

	if err := s.cache.Load(ctx); err != nil {
		return err
	}
	purged, err := s.cache.Purge(ctx)
	report.Purged = purged
	if err != nil {
		log.Warn().Err(err).Msg("Some cache entries could not be purged")
	}

	for _, name := range names {
		if report.Slices >= s.cfg.SliceBudget {
			break
		}
		rec, ok := records[name]
		if !ok {
			continue
		}

		compound, err := s.cache.UploadEmote(ctx, name, rec.ImageURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Failed = append(report.Failed, name)
			continue
		}
		s.cache.Release(name)

		report.Uploaded = append(report.Uploaded, name)
		report.Slices += len(compound.Slices)
	}
	return nil
}
