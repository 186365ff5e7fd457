// Package watcher drives periodic forced refreshes of every
// course that at least one user is watching.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/course-seat-watch/internal/seatcache"
)

// Refresher is the slice of the seat cache the scheduler calls.
type Refresher interface {
	GetOrRefresh(ctx context.Context, ref seatcache.Ref, maxAge time.Duration, force bool) (seatcache.Result, error)
}

// WatchSource enumerates the course ids under active watch.
type WatchSource interface {
	WatchedCourseIDs(ctx context.Context) ([]uint64, error)
}

// Scheduler forces a refresh of all watched courses once per
// interval. The interval doubles as the acceptable staleness of
// seat data: between ticks, conversation lookups are served from
// cache.
type Scheduler struct {
	cache       Refresher
	watches     WatchSource
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

// New returns a Scheduler. concurrency bounds the number of
// Banner fetches in flight per tick.
func New(cache Refresher, watches WatchSource, interval time.Duration, concurrency int, logger *slog.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		cache:       cache,
		watches:     watches,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run ticks until ctx is cancelled. The first iteration runs
// immediately. A tick that overruns the interval delays the next
// one rather than overlapping it.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.refreshAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refreshAll fans out one forced refresh per watched course,
// bounded by the concurrency limit. A failing course is logged and
// skipped; it gets another chance next tick.
func (s *Scheduler) refreshAll(ctx context.Context) {
	ids, err := s.watches.WatchedCourseIDs(ctx)
	if err != nil {
		s.logger.Error("watcher: list watched courses failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	s.logger.Debug("watcher: refreshing watched courses", "count", len(ids))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(courseID uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := s.cache.GetOrRefresh(ctx, seatcache.Ref{CourseID: courseID}, 0, true)
			if err != nil {
				s.logger.Warn("watcher: refresh failed", "course_id", courseID, "error", err)
				return
			}
			if res.Changed {
				s.logger.Info("watcher: seat availability changed",
					"course_id", courseID, "crn", res.Course.CRN,
					"seats_remaining", res.Course.Seats.SeatRemaining)
			}
		}(id)
	}
	wg.Wait()
}
