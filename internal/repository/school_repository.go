package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/course-seat-watch/internal/model"
)

type SchoolRepo struct{ DB *sql.DB }

func NewSchoolRepo(db *sql.DB) *SchoolRepo { return &SchoolRepo{DB: db} }

// Ensure returns the school with the given domain name, creating
// the row if it does not exist yet. Two users of the same school
// racing here both end up with the same row thanks to the unique
// index on name.
func (r *SchoolRepo) Ensure(ctx context.Context, name string) (model.School, error) {
	if _, err := r.DB.ExecContext(ctx,
		"INSERT IGNORE INTO schools (name) VALUES (?)", name); err != nil {
		return model.School{}, err
	}
	var s model.School
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, name, banner_base_url, autodetect_failed FROM schools WHERE name = ? LIMIT 1",
		name).Scan(&s.ID, &s.Name, &s.BannerBaseURL, &s.AutodetectFailed)
	return s, err
}

// Get fetches a school by id.
func (r *SchoolRepo) Get(ctx context.Context, id uint64) (model.School, error) {
	var s model.School
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, name, banner_base_url, autodetect_failed FROM schools WHERE id = ? LIMIT 1",
		id).Scan(&s.ID, &s.Name, &s.BannerBaseURL, &s.AutodetectFailed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.School{}, ErrNotFound
	}
	return s, err
}

// SetBannerURL records the resolved Banner base URL.
func (r *SchoolRepo) SetBannerURL(ctx context.Context, id uint64, url string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE schools SET banner_base_url = ? WHERE id = ?", url, id)
	return err
}

// MarkAutodetectFailed sets the latch that stops further
// autodiscovery attempts for this school.
func (r *SchoolRepo) MarkAutodetectFailed(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE schools SET autodetect_failed = 1 WHERE id = ?", id)
	return err
}
