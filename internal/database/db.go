package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// migrations are executed in order at startup. Statements are
// idempotent so restarting the service against an existing
// database is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schools (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		banner_base_url TEXT NULL,
		autodetect_failed TINYINT(1) NOT NULL DEFAULT 0
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		external_id VARCHAR(64) NOT NULL UNIQUE,
		school_id BIGINT UNSIGNED NULL,
		state INT NOT NULL,
		FOREIGN KEY (school_id) REFERENCES schools(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS courses (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		school_id BIGINT UNSIGNED NOT NULL,
		term INT NOT NULL,
		crn INT NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		course_code VARCHAR(64) NOT NULL DEFAULT '',
		section VARCHAR(16) NOT NULL DEFAULT '',
		seat_cap INT NOT NULL DEFAULT 0,
		seat_act INT NOT NULL DEFAULT 0,
		seat_rem INT NOT NULL DEFAULT 0,
		wait_cap INT NOT NULL DEFAULT 0,
		wait_act INT NOT NULL DEFAULT 0,
		wait_rem INT NOT NULL DEFAULT 0,
		seats_updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_courses_key (school_id, term, crn),
		FOREIGN KEY (school_id) REFERENCES schools(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS watchlist (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		course_id BIGINT UNSIGNED NOT NULL,
		KEY idx_watchlist_course (course_id),
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (course_id) REFERENCES courses(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
