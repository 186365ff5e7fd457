// Package seatcache serves the latest known seat counts for a
// course, refreshing from Banner when the cached row is stale or a
// caller forces it, and publishes a seats.changed event when a
// refresh moves the counters that matter.
package seatcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/course-seat-watch/internal/banner"
	"github.com/iliyamo/course-seat-watch/internal/model"
	"github.com/iliyamo/course-seat-watch/internal/queue"
	"github.com/iliyamo/course-seat-watch/internal/repository"
)

// ErrNoBannerURL is returned when a course's school has no
// resolved Banner base URL yet, so there is nothing to fetch from.
var ErrNoBannerURL = errors.New("school has no banner URL")

// Status classifies what a GetOrRefresh call did to the store.
type Status int

const (
	// Unchanged: the cached snapshot was fresh enough and served as is.
	Unchanged Status = iota
	// Created: first lookup of this course key; a row was created.
	Created
	// Updated: an existing row was refreshed from Banner.
	Updated
)

// Ref addresses a course either by store id (scheduler path) or by
// its natural key (conversation path). CourseID wins when set.
type Ref struct {
	CourseID uint64
	SchoolID uint64
	Term     int
	CRN      int
}

// Result is the structured outcome of GetOrRefresh. Changed is
// only ever true for Status Updated: a freshly created row has no
// baseline to compare against.
type Result struct {
	Course  model.Course
	Status  Status
	Changed bool
}

// CourseStore is the slice of the course repository the cache
// needs.
type CourseStore interface {
	GetByKey(ctx context.Context, schoolID uint64, term, crn int) (model.Course, error)
	GetByID(ctx context.Context, id uint64) (model.Course, error)
	Create(ctx context.Context, c *model.Course) error
	ApplySnapshot(ctx context.Context, id uint64, name, code, section string, seats model.SeatCount) (model.SeatCount, time.Time, error)
}

// SchoolStore resolves a course's school to its Banner base URL.
type SchoolStore interface {
	Get(ctx context.Context, id uint64) (model.School, error)
}

// Fetcher is the Banner adapter. It reports banner.ErrNotFound
// when the remote source has no such section.
type Fetcher interface {
	Fetch(ctx context.Context, baseURL string, crn, term int) (banner.ClassInfo, error)
}

// Publisher emits seats.changed events. Publishing happens only
// after the snapshot transaction has committed.
type Publisher interface {
	Publish(ctx context.Context, ev queue.SeatsChangedEvent) error
}

// Cache coordinates the stores, the Banner fetcher and the event
// publisher. It holds no mutable state of its own; all state lives
// in the store, so concurrent callers coordinate through row
// locks.
type Cache struct {
	courses   CourseStore
	schools   SchoolStore
	fetcher   Fetcher
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Cache. publisher may be nil, in which case change
// events are dropped (used by tests and by tooling that only wants
// the refresh side effect).
func New(courses CourseStore, schools SchoolStore, fetcher Fetcher, publisher Publisher, logger *slog.Logger) *Cache {
	return &Cache{
		courses:   courses,
		schools:   schools,
		fetcher:   fetcher,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// GetOrRefresh returns the current seat snapshot for ref. A cached
// row younger than maxAge is served directly unless force is set;
// otherwise Banner is fetched and the row upserted.
//
// Error semantics: banner.ErrNotFound propagates and never creates
// a row; a transient fetch failure propagates with the cached row
// left untouched, and the caller decides whether to surface it or
// fall back to stale data.
func (c *Cache) GetOrRefresh(ctx context.Context, ref Ref, maxAge time.Duration, force bool) (Result, error) {
	var (
		course model.Course
		exists bool
	)
	if ref.CourseID != 0 {
		got, err := c.courses.GetByID(ctx, ref.CourseID)
		if err != nil {
			return Result{}, err
		}
		course, exists = got, true
		ref.SchoolID, ref.Term, ref.CRN = got.SchoolID, got.Term, got.CRN
	} else {
		got, err := c.courses.GetByKey(ctx, ref.SchoolID, ref.Term, ref.CRN)
		switch {
		case err == nil:
			course, exists = got, true
		case errors.Is(err, repository.ErrNotFound):
		default:
			return Result{}, err
		}
	}

	if exists && !force && c.now().Sub(course.UpdatedAt) <= maxAge {
		return Result{Course: course, Status: Unchanged}, nil
	}

	baseURL, err := c.bannerURL(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	info, err := c.fetcher.Fetch(ctx, baseURL, ref.CRN, ref.Term)
	if err != nil {
		// NotFound or transient failure; either way the cached row
		// stays exactly as it was.
		return Result{}, err
	}

	if !exists {
		course = model.Course{
			SchoolID: ref.SchoolID,
			Term:     ref.Term,
			CRN:      ref.CRN,
			Name:     info.Name,
			Code:     info.Code,
			Section:  info.Section,
			Seats:    info.Seats,
		}
		if err := c.courses.Create(ctx, &course); err != nil {
			return Result{}, err
		}
		return Result{Course: course, Status: Created}, nil
	}

	prev, at, err := c.courses.ApplySnapshot(ctx, course.ID, info.Name, info.Code, info.Section, info.Seats)
	if err != nil {
		return Result{}, err
	}
	course.Name, course.Code, course.Section = info.Name, info.Code, info.Section
	course.Seats = info.Seats
	course.UpdatedAt = at

	changed := notableChange(prev, info.Seats)
	if changed {
		c.publishChange(ctx, course)
	}
	return Result{Course: course, Status: Updated, Changed: changed}, nil
}

// notableChange implements the notification rule: the open-seat
// count moved, or seats are exhausted and the waitlist count
// moved. Waitlist churn while seats remain open is noise.
func notableChange(prev, next model.SeatCount) bool {
	if next.SeatRemaining != prev.SeatRemaining {
		return true
	}
	return next.SeatRemaining <= 0 && next.WaitRemaining != prev.WaitRemaining
}

func (c *Cache) bannerURL(ctx context.Context, ref Ref) (string, error) {
	school, err := c.schools.Get(ctx, ref.SchoolID)
	if err != nil {
		return "", fmt.Errorf("resolve school %d: %w", ref.SchoolID, err)
	}
	if school.BannerBaseURL == nil {
		// The synthetic test course never touches Banner, so it is
		// reachable even before the school's URL is known.
		if ref.CRN == banner.TestCRN {
			return "", nil
		}
		return "", ErrNoBannerURL
	}
	return *school.BannerBaseURL, nil
}

func (c *Cache) publishChange(ctx context.Context, course model.Course) {
	if c.publisher == nil {
		return
	}
	ev := queue.SeatsChangedEvent{
		EventID:       uuid.NewString(),
		CourseID:      course.ID,
		SchoolID:      course.SchoolID,
		Term:          course.Term,
		CRN:           course.CRN,
		Name:          course.Name,
		Code:          course.Code,
		Section:       course.Section,
		SeatCap:       course.Seats.SeatCap,
		SeatFilled:    course.Seats.SeatFilled,
		SeatRemaining: course.Seats.SeatRemaining,
		WaitCap:       course.Seats.WaitCap,
		WaitFilled:    course.Seats.WaitFilled,
		WaitRemaining: course.Seats.WaitRemaining,
		ChangedAt:     course.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		// Lost notifications are acceptable (at-most-once); a failed
		// publish must not fail the refresh that already committed.
		c.logger.Error("publish seats.changed failed",
			"course_id", course.ID, "crn", course.CRN, "error", err)
	}
}
