package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/course-seat-watch/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Profile is a user row joined with its school, loaded in one
// query so the conversation engine can restore a session without
// extra round trips.
type Profile struct {
	User          model.User
	SchoolName    *string
	BannerBaseURL *string
}

// GetByExternalID loads a user and their school by chat identity.
// Returns ErrNotFound for first-time users.
func (r *UserRepo) GetByExternalID(ctx context.Context, externalID string) (Profile, error) {
	var (
		p        Profile
		schoolID sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT u.id, u.external_id, u.school_id, u.state, s.name, s.banner_base_url
		 FROM users u LEFT JOIN schools s ON u.school_id = s.id
		 WHERE u.external_id = ? LIMIT 1`,
		externalID).Scan(&p.User.ID, &p.User.ExternalID, &schoolID, &p.User.State,
		&p.SchoolName, &p.BannerBaseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if schoolID.Valid {
		id := uint64(schoolID.Int64)
		p.User.SchoolID = &id
	}
	return p, nil
}

// Create inserts a new user row and returns its ID.
func (r *UserRepo) Create(ctx context.Context, externalID string, state int) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (external_id, state) VALUES (?, ?)", externalID, state)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// SetSchool associates the user with a school.
func (r *UserRepo) SetSchool(ctx context.Context, userID, schoolID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET school_id = ? WHERE id = ?", schoolID, userID)
	return err
}

// SetState persists the encoded conversation state.
func (r *UserRepo) SetState(ctx context.Context, userID uint64, state int) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET state = ? WHERE id = ?", state, userID)
	return err
}

// Reset removes the user and every watch entry referencing them in
// a single transaction, so a watch entry can never outlive its
// user.
func (r *UserRepo) Reset(ctx context.Context, userID uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM watchlist WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clear watchlist: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM users WHERE id = ?", userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of registered users.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}
