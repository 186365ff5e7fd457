package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/course-seat-watch/internal/model"
)

type CourseRepo struct{ DB *sql.DB }

func NewCourseRepo(db *sql.DB) *CourseRepo { return &CourseRepo{DB: db} }

const courseColumns = `id, school_id, term, crn, name, course_code, section,
	seat_cap, seat_act, seat_rem, wait_cap, wait_act, wait_rem, seats_updated_at`

func scanCourse(row *sql.Row) (model.Course, error) {
	var c model.Course
	err := row.Scan(&c.ID, &c.SchoolID, &c.Term, &c.CRN, &c.Name, &c.Code, &c.Section,
		&c.Seats.SeatCap, &c.Seats.SeatFilled, &c.Seats.SeatRemaining,
		&c.Seats.WaitCap, &c.Seats.WaitFilled, &c.Seats.WaitRemaining, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Course{}, ErrNotFound
	}
	return c, err
}

// GetByKey fetches a course by its natural (school, term, crn) key.
func (r *CourseRepo) GetByKey(ctx context.Context, schoolID uint64, term, crn int) (model.Course, error) {
	return scanCourse(r.DB.QueryRowContext(ctx,
		"SELECT "+courseColumns+" FROM courses WHERE school_id = ? AND term = ? AND crn = ? LIMIT 1",
		schoolID, term, crn))
}

// GetByID fetches a course by primary key.
func (r *CourseRepo) GetByID(ctx context.Context, id uint64) (model.Course, error) {
	return scanCourse(r.DB.QueryRowContext(ctx,
		"SELECT "+courseColumns+" FROM courses WHERE id = ? LIMIT 1", id))
}

// Create inserts a course with its first seat snapshot and fills
// in the generated ID and snapshot timestamp.
func (r *CourseRepo) Create(ctx context.Context, c *model.Course) error {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO courses (school_id, term, crn, name, course_code, section,
			seat_cap, seat_act, seat_rem, wait_cap, wait_act, wait_rem, seats_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SchoolID, c.Term, c.CRN, c.Name, c.Code, c.Section,
		c.Seats.SeatCap, c.Seats.SeatFilled, c.Seats.SeatRemaining,
		c.Seats.WaitCap, c.Seats.WaitFilled, c.Seats.WaitRemaining, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	c.UpdatedAt = now
	return nil
}

// ApplySnapshot replaces a course's seat snapshot inside one
// transaction and returns the counters it replaced. The row is
// locked for the duration of the read-compare-write, so two
// concurrent refreshes of the same course cannot lose an update,
// and the caller can compute change detection against the exact
// counters that were overwritten.
func (r *CourseRepo) ApplySnapshot(ctx context.Context, id uint64, name, code, section string, seats model.SeatCount) (model.SeatCount, time.Time, error) {
	var prev model.SeatCount
	now := time.Now().UTC().Truncate(time.Second)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return prev, time.Time{}, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`SELECT seat_cap, seat_act, seat_rem, wait_cap, wait_act, wait_rem
		 FROM courses WHERE id = ? FOR UPDATE`, id).Scan(
		&prev.SeatCap, &prev.SeatFilled, &prev.SeatRemaining,
		&prev.WaitCap, &prev.WaitFilled, &prev.WaitRemaining)
	if errors.Is(err, sql.ErrNoRows) {
		return prev, time.Time{}, ErrNotFound
	}
	if err != nil {
		return prev, time.Time{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE courses SET name = ?, course_code = ?, section = ?,
			seat_cap = ?, seat_act = ?, seat_rem = ?,
			wait_cap = ?, wait_act = ?, wait_rem = ?,
			seats_updated_at = GREATEST(seats_updated_at, ?)
		 WHERE id = ?`,
		name, code, section,
		seats.SeatCap, seats.SeatFilled, seats.SeatRemaining,
		seats.WaitCap, seats.WaitFilled, seats.WaitRemaining,
		now, id); err != nil {
		return prev, time.Time{}, fmt.Errorf("update seats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return prev, time.Time{}, err
	}
	return prev, now, nil
}

// Count returns the number of tracked courses.
func (r *CourseRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM courses").Scan(&n)
	return n, err
}
