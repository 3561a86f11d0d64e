package emotecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/synclog"
	"github.com/zentra/nbot/pkg/retry"
)

type fakeUsage []models.UsageCount

func (u fakeUsage) Top(_ context.Context, n int) ([]models.UsageCount, error) {
	if n < len(u) {
		return u[:n], nil
	}
	return u, nil
}

type fakeDirectory map[string]models.EmoteRecord

func (d fakeDirectory) FindByNames(_ context.Context, names []string) (map[string]models.EmoteRecord, error) {
	out := map[string]models.EmoteRecord{}
	for _, n := range names {
		if r, ok := d[n]; ok {
			out[n] = r
		}
	}
	return out, nil
}

type fakeLogs struct {
	entry *models.SyncLog
}

func (l *fakeLogs) Get(context.Context, string) (*models.SyncLog, error) {
	if l.entry == nil {
		return nil, synclog.ErrLogNotFound
	}
	cp := *l.entry
	return &cp, nil
}

func (l *fakeLogs) Record(_ context.Context, key string, at time.Time, success bool) error {
	failures := 0
	if !success && l.entry != nil {
		failures = l.entry.Failures + 1
	} else if !success {
		failures = 1
	}
	l.entry = &models.SyncLog{Key: key, LastRun: at, Success: success, Failures: failures}
	return nil
}

func TestSynchronizerUpdate(t *testing.T) {
	p := newFakePlatform(50)
	p.seed("stale", false)
	c := newTestCache(t, p, testImages(t), 8)

	usage := fakeUsage{
		{Name: "duck", Uses: 30},
		{Name: "gone", Uses: 20},
		{Name: "broken", Uses: 15},
		{Name: "widepeepo", Uses: 10},
		{Name: "late", Uses: 5},
	}
	dir := fakeDirectory{
		"duck":      {Name: "duck", ImageURL: "https://cdn/square.png"},
		"broken":    {Name: "broken", ImageURL: "https://cdn/missing.png"},
		"widepeepo": {Name: "widepeepo", ImageURL: "https://cdn/wide.png"},
		"late":      {Name: "late", ImageURL: "https://cdn/square.png"},
	}
	logs := &fakeLogs{}

	s := NewSynchronizer(c, usage, dir, logs, SyncConfig{TopN: 40, SliceBudget: 4, StaleAfter: 24 * time.Hour})
	report, err := s.Update(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, []string{"duck", "widepeepo"}, report.Uploaded)
	assert.Equal(t, []string{"broken"}, report.Failed)
	assert.Equal(t, 4, report.Slices)

	_, ok := c.Lookup("stale")
	assert.False(t, ok)
	_, ok = c.Lookup("late")
	assert.False(t, ok, "slice budget spent")
	assert.Zero(t, c.Status().Pinned)
	assert.True(t, logs.entry.Success)
}

func TestSynchronizerDue(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry *models.SyncLog
		want  bool
	}{
		{"never ran", nil, true},
		{"fresh", &models.SyncLog{LastRun: now.Add(-time.Hour), Success: true}, false},
		{"stale", &models.SyncLog{LastRun: now.Add(-25 * time.Hour), Success: true}, true},
		{"failed, backing off", &models.SyncLog{LastRun: now.Add(-10 * time.Minute), Failures: 1}, false},
		{"failed, backoff over", &models.SyncLog{LastRun: now.Add(-20 * time.Minute), Failures: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(newFakePlatform(50), testImages(t), Options{})
			s := NewSynchronizer(c, fakeUsage{}, fakeDirectory{}, &fakeLogs{entry: tt.entry}, SyncConfig{
				StaleAfter: 24 * time.Hour,
				Schedule:   retry.NewSchedule(15*time.Minute, time.Hour),
			})
			s.SetClock(func() time.Time { return now })

			due, err := s.Due(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, due)
		})
	}
}
