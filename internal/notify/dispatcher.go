// Package notify fans a seat-change event out to everyone
// watching the course.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iliyamo/course-seat-watch/internal/banner"
	"github.com/iliyamo/course-seat-watch/internal/queue"
)

// Sender delivers outbound chat messages. Send returns a handle
// that Edit can use to replace the message in place.
type Sender interface {
	Send(ctx context.Context, externalID, text string) (string, error)
	Edit(ctx context.Context, externalID, messageID, text string) error
}

// WatcherSource resolves the chat identities watching a course.
type WatcherSource interface {
	WatcherExternalIDs(ctx context.Context, courseID uint64) ([]string, error)
}

// Dispatcher delivers one notification per watching user per
// seats.changed event. Delivery is at-most-once: a user whose
// transport rejects the message is logged and skipped, never
// retried.
type Dispatcher struct {
	watchers WatcherSource
	sender   Sender
	logger   *slog.Logger
}

func NewDispatcher(watchers WatcherSource, sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{watchers: watchers, sender: sender, logger: logger}
}

// Dispatch sends a short summary to each watcher, then edits it
// into the full description. The only error returned is a failure
// to resolve the watcher set; per-user delivery failures are
// isolated.
func (d *Dispatcher) Dispatch(ctx context.Context, ev queue.SeatsChangedEvent) error {
	ids, err := d.watchers.WatcherExternalIDs(ctx, ev.CourseID)
	if err != nil {
		return fmt.Errorf("resolve watchers for course %d: %w", ev.CourseID, err)
	}
	if len(ids) == 0 {
		return nil
	}

	summary := Summary(ev)
	description := Description(ev)
	for _, externalID := range ids {
		msgID, err := d.sender.Send(ctx, externalID, summary)
		if err != nil {
			d.logger.Warn("notify: send failed",
				"user", externalID, "course_id", ev.CourseID, "error", err)
			continue
		}
		if err := d.sender.Edit(ctx, externalID, msgID, description); err != nil {
			d.logger.Warn("notify: edit failed",
				"user", externalID, "course_id", ev.CourseID, "error", err)
		}
	}
	return nil
}

// displayCounts picks which counters a notification talks about:
// open seats normally, waitlist spots once seats are exhausted and
// a waitlist exists.
func displayCounts(ev queue.SeatsChangedEvent) (cap, rem int, noun string) {
	if ev.SeatRemaining <= 0 && ev.WaitCap > 0 {
		return ev.WaitCap, ev.WaitRemaining, "waitlist spot"
	}
	return ev.SeatCap, ev.SeatRemaining, "seat"
}

// Summary is the short first-line notification.
func Summary(ev queue.SeatsChangedEvent) string {
	capCount, rem, noun := displayCounts(ev)
	return fmt.Sprintf("%s %s: %d/%d %s available",
		ev.Code, ev.Section, rem, capCount, Pluralize(noun, capCount))
}

// Description is the detail message the summary is edited into.
func Description(ev queue.SeatsChangedEvent) string {
	capCount, rem, noun := displayCounts(ev)
	return fmt.Sprintf("**%s %s** *%s* (CRN %05d, %s) now has **%d available %s** out of a total of %d %s.",
		ev.Code, ev.Section, ev.Name, ev.CRN, banner.HumanTerm(ev.Term),
		rem, Pluralize(noun, rem), capCount, Pluralize(noun, capCount))
}

// Pluralize naively appends "s" unless n is exactly one.
func Pluralize(noun string, n int) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}
