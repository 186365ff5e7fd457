package model

import "time"

// SeatCount holds one snapshot of the seat and waitlist counters
// scraped from Banner. It is replaced wholesale on every refresh.
type SeatCount struct {
	SeatCap       int // courses.seat_cap
	SeatFilled    int // courses.seat_act
	SeatRemaining int // courses.seat_rem
	WaitCap       int // courses.wait_cap
	WaitFilled    int // courses.wait_act
	WaitRemaining int // courses.wait_rem
}

// Course represents a tracked course section in the `courses`
// table. A course is identified by its (school, term, CRN) key and
// created lazily the first time anyone looks it up. Only the most
// recent seat snapshot is retained; UpdatedAt records when it was
// taken and is monotonically non-decreasing.
//
// Fields:
//  ID        – primary key identifier.
//  SchoolID  – school this section belongs to.
//  Term      – term code (year*100 + month code).
//  CRN       – five-digit course reference number.
//  Name      – course title as shown by Banner.
//  Code      – catalog identifier (e.g. "CS 1332").
//  Section   – section label.
//  Seats     – latest seat snapshot.
//  UpdatedAt – when the snapshot was taken (UTC).
type Course struct {
	ID        uint64    // courses.id
	SchoolID  uint64    // courses.school_id
	Term      int       // courses.term
	CRN       int       // courses.crn
	Name      string    // courses.name
	Code      string    // courses.course_code
	Section   string    // courses.section
	Seats     SeatCount
	UpdatedAt time.Time // courses.seats_updated_at
}
