// Package queue defines the seats.changed event and the RabbitMQ
// publisher and consumer that carry it. Publishing happens only
// after the course row update has committed, so a consumer never
// sees a change the database does not.
package queue

// SeatsChangedQueue is the durable queue seat-change events travel
// through.
const SeatsChangedQueue = "seats.changed"

// SeatsChangedEvent is published whenever a refresh moves a
// course's notable seat counters. It carries the full snapshot so
// consumers can notify without querying the primary database.
type SeatsChangedEvent struct {
	EventID       string `json:"event_id"`
	CourseID      uint64 `json:"course_id"`
	SchoolID      uint64 `json:"school_id"`
	Term          int    `json:"term"`
	CRN           int    `json:"crn"`
	Name          string `json:"name"`
	Code          string `json:"code"`
	Section       string `json:"section"`
	SeatCap       int    `json:"seat_cap"`
	SeatFilled    int    `json:"seat_filled"`
	SeatRemaining int    `json:"seat_remaining"`
	WaitCap       int    `json:"wait_cap"`
	WaitFilled    int    `json:"wait_filled"`
	WaitRemaining int    `json:"wait_remaining"`
	ChangedAt     string `json:"changed_at"`
}
