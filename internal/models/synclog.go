package models

import "time"

const (
	SyncKeyEmoteCollection = "lastEmoteCollectionUpdate"
	SyncKeyCache           = "lastCacheUpdate"
)

// SyncLog records the outcome of the latest run of a periodic job.
// Failures counts consecutive failed runs and is reset by a success.
type SyncLog struct {
	Key      string    `json:"key" db:"key"`
	LastRun  time.Time `json:"lastRun" db:"last_run"`
	Success  bool      `json:"success" db:"success"`
	Failures int       `json:"failures" db:"failures"`
}
