package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is kept to portable DDL so the same statements run on PostgreSQL and SQLite.
// Scores are stored as text: comparisons stay on the portal's serialised representation.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS courses (
		year         TEXT NOT NULL,
		semester     TEXT NOT NULL,
		course_id    TEXT NOT NULL,
		name         TEXT NOT NULL,
		type         TEXT NOT NULL,
		credit       TEXT NOT NULL,
		gpa          TEXT NOT NULL,
		normal_score TEXT NOT NULL,
		real_score   TEXT NOT NULL,
		total_score  TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		PRIMARY KEY (course_id, year, semester, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_courses_user_term ON courses (user_id, year, semester)`,
}

// Migrate creates the tables the course repository needs.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}
