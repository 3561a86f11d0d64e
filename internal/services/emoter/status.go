package emoter

import (
	"context"
	"errors"
	"fmt"

	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/emotecache"
	"github.com/zentra/nbot/internal/services/synclog"
)

type DirectoryStatus struct {
	Total    int64                        `json:"total"`
	BySource map[models.EmoteSource]int64 `json:"bySource"`
}

// Status is a snapshot of the whole pipeline.
type Status struct {
	Cache          emotecache.Status `json:"cache"`
	Directory      DirectoryStatus   `json:"directory"`
	CollectionSync *models.SyncLog   `json:"collectionSync,omitempty"`
	CacheSync      *models.SyncLog   `json:"cacheSync,omitempty"`
}

func (m *Module) Status(ctx context.Context) (*Status, error) {
	st := &Status{Cache: m.deps.Cache.Status()}

	total, err := m.deps.Directory.Count(ctx)
	if err != nil {
		return nil, err
	}
	bySource, err := m.deps.Directory.CountBySource(ctx)
	if err != nil {
		return nil, err
	}
	st.Directory = DirectoryStatus{Total: total, BySource: bySource}

	if st.CollectionSync, err = m.syncLog(ctx, models.SyncKeyEmoteCollection); err != nil {
		return nil, err
	}
	if st.CacheSync, err = m.syncLog(ctx, models.SyncKeyCache); err != nil {
		return nil, err
	}
	return st, nil
}

func (m *Module) syncLog(ctx context.Context, key string) (*models.SyncLog, error) {
	entry, err := m.deps.SyncLogs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, synclog.ErrLogNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sync log %s: %w", key, err)
	}
	return entry, nil
}
