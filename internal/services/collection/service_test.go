package collection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/catalog"
	"github.com/zentra/nbot/internal/services/synclog"
	"github.com/zentra/nbot/pkg/retry"
)

type fakeDirectory struct {
	mu      sync.Mutex
	records map[string]models.EmoteRecord
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{records: map[string]models.EmoteRecord{}}
}

func (d *fakeDirectory) DeleteBySource(_ context.Context, source models.EmoteSource) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for name, r := range d.records {
		if r.Source == source {
			delete(d.records, name)
			n++
		}
	}
	return n, nil
}

func (d *fakeDirectory) InsertMany(_ context.Context, records []models.EmoteRecord) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inserted := 0
	for _, r := range records {
		if _, ok := d.records[r.Name]; ok {
			continue
		}
		d.records[r.Name] = r
		inserted++
	}
	return inserted, len(records) - inserted, nil
}

func (d *fakeDirectory) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

type fakeLogs struct {
	entries map[string]*models.SyncLog
	records int
}

func (l *fakeLogs) Get(_ context.Context, key string) (*models.SyncLog, error) {
	e, ok := l.entries[key]
	if !ok {
		return nil, synclog.ErrLogNotFound
	}
	cp := *e
	return &cp, nil
}

func (l *fakeLogs) Record(_ context.Context, key string, at time.Time, success bool) error {
	l.records++
	e, ok := l.entries[key]
	if !ok {
		e = &models.SyncLog{Key: key}
		l.entries[key] = e
	}
	e.LastRun = at
	e.Success = success
	if success {
		e.Failures = 0
	} else {
		e.Failures++
	}
	return nil
}

type fakeCatalog struct {
	source models.EmoteSource
	pages  [][]models.EmoteRecord
	failAt int // page index that fails, -1 for none
	calls  int
}

func (c *fakeCatalog) Source() models.EmoteSource { return c.source }

func (c *fakeCatalog) Fetch(_ context.Context, emit catalog.EmitFunc) error {
	c.calls++
	for i, p := range c.pages {
		if i == c.failAt {
			return errors.New("catalog unavailable")
		}
		if err := emit(p); err != nil {
			return err
		}
	}
	return nil
}

func records(source models.EmoteSource, names ...string) []models.EmoteRecord {
	out := make([]models.EmoteRecord, len(names))
	for i, n := range names {
		out[i] = models.EmoteRecord{Name: n, ImageURL: "https://cdn/" + n, Source: source}
	}
	return out
}

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestService(logs *fakeLogs, dir *fakeDirectory, cats ...catalog.Catalog) *Service {
	return NewService(dir, logs, cats, 7*24*time.Hour, retry.NewSchedule(15*time.Minute, 24*time.Hour),
		WithClock(func() time.Time { return now }))
}

func TestCheckForUpdatesSkipsFreshLog(t *testing.T) {
	logs := &fakeLogs{entries: map[string]*models.SyncLog{
		models.SyncKeyEmoteCollection: {LastRun: now.Add(-3 * 24 * time.Hour), Success: true},
	}}
	cat := &fakeCatalog{source: models.SourceBTTV, failAt: -1}

	report, err := newTestService(logs, newFakeDirectory(), cat).CheckForUpdates(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Zero(t, cat.calls)
	assert.Zero(t, logs.records)
}

func TestCheckForUpdatesRuns(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]*models.SyncLog
	}{
		{"missing log", map[string]*models.SyncLog{}},
		{"stale log", map[string]*models.SyncLog{
			models.SyncKeyEmoteCollection: {LastRun: now.Add(-8 * 24 * time.Hour), Success: true},
		}},
		{"failed run past backoff", map[string]*models.SyncLog{
			models.SyncKeyEmoteCollection: {LastRun: now.Add(-time.Hour), Success: false, Failures: 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := &fakeLogs{entries: tt.entries}
			cat := &fakeCatalog{source: models.SourceBTTV, failAt: -1, pages: [][]models.EmoteRecord{records(models.SourceBTTV, "a")}}

			report, err := newTestService(logs, newFakeDirectory(), cat).CheckForUpdates(context.Background())
			require.NoError(t, err)
			require.NotNil(t, report)
			assert.Equal(t, 1, cat.calls)
			assert.True(t, logs.entries[models.SyncKeyEmoteCollection].Success)
		})
	}
}

func TestCheckForUpdatesHonorsBackoff(t *testing.T) {
	logs := &fakeLogs{entries: map[string]*models.SyncLog{
		// third consecutive failure: next attempt after 1h
		models.SyncKeyEmoteCollection: {LastRun: now.Add(-30 * time.Minute), Success: false, Failures: 3},
	}}
	cat := &fakeCatalog{source: models.SourceBTTV, failAt: -1}

	report, err := newTestService(logs, newFakeDirectory(), cat).CheckForUpdates(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Zero(t, cat.calls)
}

func TestUpdateIsIdempotent(t *testing.T) {
	logs := &fakeLogs{entries: map[string]*models.SyncLog{}}
	dir := newFakeDirectory()
	bttv := &fakeCatalog{source: models.SourceBTTV, failAt: -1, pages: [][]models.EmoteRecord{
		records(models.SourceBTTV, "catJAM", "monkaS"),
		records(models.SourceBTTV, "monkaS", "OMEGALUL"),
	}}
	ffz := &fakeCatalog{source: models.SourceFFZ, failAt: -1, pages: [][]models.EmoteRecord{
		records(models.SourceFFZ, "LULW", "catJAM"),
	}}
	svc := newTestService(logs, dir, bttv, ffz)

	first, err := svc.Update(context.Background())
	require.NoError(t, err)
	countAfterFirst := dir.count()

	second, err := svc.Update(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, countAfterFirst)
	assert.Equal(t, countAfterFirst, dir.count())
	assert.Equal(t, 3, first.Catalogs[0].Inserted)
	assert.Equal(t, 1, first.Catalogs[1].Inserted)
	assert.Equal(t, 3, second.Catalogs[0].Inserted)
	assert.Equal(t, 1, second.Catalogs[0].Duplicates)
	assert.Equal(t, int64(3), second.Catalogs[0].Deleted)
	assert.Equal(t, 1, second.Catalogs[1].Duplicates)
}

func TestUpdateRecordsFailure(t *testing.T) {
	logs := &fakeLogs{entries: map[string]*models.SyncLog{}}
	dir := newFakeDirectory()
	bttv := &fakeCatalog{source: models.SourceBTTV, failAt: 1, pages: [][]models.EmoteRecord{
		records(models.SourceBTTV, "a", "b"),
		records(models.SourceBTTV, "c"),
	}}
	ffz := &fakeCatalog{source: models.SourceFFZ, failAt: -1, pages: [][]models.EmoteRecord{
		records(models.SourceFFZ, "d"),
	}}

	report, err := newTestService(logs, dir, bttv, ffz).Update(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)

	assert.False(t, report.Success)
	assert.NotEmpty(t, report.Catalogs[0].Error)
	assert.Empty(t, report.Catalogs[1].Error)
	assert.Equal(t, 1, ffz.calls, "other catalogs still run")
	assert.Equal(t, 3, dir.count(), "records inserted before the failure are kept")

	entry := logs.entries[models.SyncKeyEmoteCollection]
	assert.False(t, entry.Success)
	assert.Equal(t, now, entry.LastRun)
	assert.Equal(t, 1, entry.Failures)
}

func TestUpdateDoesNotOverlap(t *testing.T) {
	svc := newTestService(&fakeLogs{entries: map[string]*models.SyncLog{}}, newFakeDirectory())
	svc.running.Lock()
	defer svc.running.Unlock()

	_, err := svc.Update(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
