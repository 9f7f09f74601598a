package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/score-tracker/internal/models"
)

var (
	// ErrCourseNotFound is returned when a write targets a natural key with no stored row.
	ErrCourseNotFound = errors.New("course not found")
	// ErrDuplicateCourse is returned when inserting a natural key that is already stored.
	ErrDuplicateCourse = errors.New("course already exists")
)

type queryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

const courseColumns = `year, semester, course_id, name, type, credit, gpa, normal_score, real_score, total_score, user_id`

// CourseRepository persists course results keyed by (user_id, course_id, year, semester).
type CourseRepository struct {
	db      *sqlx.DB
	metrics queryObserver
}

// NewCourseRepository creates a new course repository. metrics may be nil.
func NewCourseRepository(db *sqlx.DB, metrics queryObserver) *CourseRepository {
	return &CourseRepository{db: db, metrics: metrics}
}

// Find returns the stored course for the key or an error wrapping sql.ErrNoRows.
func (r *CourseRepository) Find(ctx context.Context, key models.CourseKey) (*models.Course, error) {
	defer r.observe("courses.find", time.Now())
	query := r.db.Rebind(`SELECT ` + courseColumns + ` FROM courses
        WHERE user_id = ? AND course_id = ? AND year = ? AND semester = ?`)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, key.UserID, key.CourseID, key.Year, key.Semester); err != nil {
		return nil, fmt.Errorf("find course %s: %w", key, err)
	}
	return &course, nil
}

// Insert stores a full course row with absent scores written as 0.
func (r *CourseRepository) Insert(ctx context.Context, course models.Course) error {
	defer r.observe("courses.insert", time.Now())
	query := r.db.Rebind(`INSERT INTO courses (` + courseColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (course_id, year, semester, user_id) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query,
		course.Year,
		course.Semester,
		course.CourseID,
		course.Name,
		course.Type,
		course.Credit,
		course.GPA,
		string(course.NormalScore.Normalized()),
		string(course.RealScore.Normalized()),
		string(course.TotalScore),
		course.UserID,
	)
	if err != nil {
		return fmt.Errorf("insert course %s: %w", course.Key(), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert course %s: %w", course.Key(), err)
	}
	if affected == 0 {
		return fmt.Errorf("insert course %s: %w", course.Key(), ErrDuplicateCourse)
	}
	return nil
}

// UpdateScores overwrites the normal, real and total scores of a stored row and nothing else.
func (r *CourseRepository) UpdateScores(ctx context.Context, course models.Course) error {
	defer r.observe("courses.update_scores", time.Now())
	query := r.db.Rebind(`UPDATE courses SET real_score = ?, normal_score = ?, total_score = ?
        WHERE user_id = ? AND course_id = ? AND year = ? AND semester = ?`)
	res, err := r.db.ExecContext(ctx, query,
		string(course.RealScore.Normalized()),
		string(course.NormalScore.Normalized()),
		string(course.TotalScore),
		course.UserID,
		course.CourseID,
		course.Year,
		course.Semester,
	)
	if err != nil {
		return fmt.Errorf("update course scores %s: %w", course.Key(), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update course scores %s: %w", course.Key(), err)
	}
	if affected == 0 {
		return fmt.Errorf("update course scores %s: %w", course.Key(), ErrCourseNotFound)
	}
	return nil
}

// ListByUser returns the stored courses for a user, optionally narrowed to a year and semester.
func (r *CourseRepository) ListByUser(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	defer r.observe("courses.list", time.Now())
	query := `SELECT ` + courseColumns + ` FROM courses WHERE user_id = ?`
	args := []interface{}{filter.UserID}
	if filter.Year != "" {
		query += " AND year = ?"
		args = append(args, filter.Year)
	}
	if filter.Semester != "" {
		query += " AND semester = ?"
		args = append(args, filter.Semester)
	}
	query += " ORDER BY year, semester, course_id"

	courses := make([]models.Course, 0)
	if err := r.db.SelectContext(ctx, &courses, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// Delete removes a stored row.
func (r *CourseRepository) Delete(ctx context.Context, key models.CourseKey) error {
	defer r.observe("courses.delete", time.Now())
	query := r.db.Rebind(`DELETE FROM courses WHERE user_id = ? AND course_id = ? AND year = ? AND semester = ?`)
	res, err := r.db.ExecContext(ctx, query, key.UserID, key.CourseID, key.Year, key.Semester)
	if err != nil {
		return fmt.Errorf("delete course %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete course %s: %w", key, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete course %s: %w", key, ErrCourseNotFound)
	}
	return nil
}

func (r *CourseRepository) observe(label string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveDBQuery(label, time.Since(start))
	}
}
