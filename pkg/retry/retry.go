// Package retry computes capped exponential delays for failed background jobs.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Schedule struct {
	Base time.Duration
	Max  time.Duration
}

func NewSchedule(base, max time.Duration) Schedule {
	return Schedule{Base: base, Max: max}
}

// Delay returns how long to wait after the given number of consecutive
// failures. Zero failures means no wait.
func (s Schedule) Delay(failures int) time.Duration {
	if failures <= 0 || s.Base <= 0 {
		return 0
	}

	b := s.newBackOff()
	var d time.Duration
	for i := 0; i < failures; i++ {
		d = b.NextBackOff()
		if d >= s.Max {
			return s.Max
		}
	}
	return d
}

// Due reports whether a job that last ran at lastRun after the given
// number of failures may run again at now.
func (s Schedule) Due(lastRun time.Time, failures int, now time.Time) bool {
	return !now.Before(lastRun.Add(s.Delay(failures)))
}

func (s Schedule) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.Max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
