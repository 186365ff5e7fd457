package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/course-seat-watch/internal/model"
)

type WatchlistRepo struct{ DB *sql.DB }

func NewWatchlistRepo(db *sql.DB) *WatchlistRepo { return &WatchlistRepo{DB: db} }

// Get returns the watch entry for a (user, course) pair, or
// ErrNotFound when the user is not watching the course.
func (r *WatchlistRepo) Get(ctx context.Context, userID, courseID uint64) (model.WatchEntry, error) {
	var w model.WatchEntry
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, course_id FROM watchlist WHERE user_id = ? AND course_id = ? LIMIT 1",
		userID, courseID).Scan(&w.ID, &w.UserID, &w.CourseID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WatchEntry{}, ErrNotFound
	}
	return w, err
}

// Add subscribes the user to the course. The check-then-insert
// runs in one transaction so a doubled command cannot produce
// duplicate rows; the return value reports whether a row was
// actually inserted.
func (r *WatchlistRepo) Add(ctx context.Context, userID, courseID uint64) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing uint64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM watchlist WHERE user_id = ? AND course_id = ? LIMIT 1 FOR UPDATE",
		userID, courseID).Scan(&existing)
	switch {
	case err == nil:
		return false, nil // already watching; deferred rollback releases the lock
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO watchlist (user_id, course_id) VALUES (?, ?)", userID, courseID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Remove unsubscribes the user from the course and reports whether
// an entry existed.
func (r *WatchlistRepo) Remove(ctx context.Context, userID, courseID uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM watchlist WHERE user_id = ? AND course_id = ?", userID, courseID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListCoursesByUser returns the courses on a user's watchlist with
// their latest seat snapshots.
func (r *WatchlistRepo) ListCoursesByUser(ctx context.Context, userID uint64) ([]model.Course, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT c.id, c.school_id, c.term, c.crn, c.name, c.course_code, c.section,
			c.seat_cap, c.seat_act, c.seat_rem, c.wait_cap, c.wait_act, c.wait_rem,
			c.seats_updated_at
		 FROM watchlist w INNER JOIN courses c ON w.course_id = c.id
		 WHERE w.user_id = ? ORDER BY c.term, c.crn`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []model.Course
	for rows.Next() {
		var c model.Course
		if err := rows.Scan(&c.ID, &c.SchoolID, &c.Term, &c.CRN, &c.Name, &c.Code, &c.Section,
			&c.Seats.SeatCap, &c.Seats.SeatFilled, &c.Seats.SeatRemaining,
			&c.Seats.WaitCap, &c.Seats.WaitFilled, &c.Seats.WaitRemaining, &c.UpdatedAt); err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// WatcherExternalIDs resolves the chat identities of every user
// watching the course.
func (r *WatchlistRepo) WatcherExternalIDs(ctx context.Context, courseID uint64) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT u.external_id FROM watchlist w INNER JOIN users u ON w.user_id = u.id
		 WHERE w.course_id = ?`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WatchedCourseIDs returns the distinct courses referenced by at
// least one watch entry. The refresh scheduler enumerates these
// every tick.
func (r *WatchlistRepo) WatchedCourseIDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT DISTINCT course_id FROM watchlist")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of watch entries.
func (r *WatchlistRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM watchlist").Scan(&n)
	return n, err
}
