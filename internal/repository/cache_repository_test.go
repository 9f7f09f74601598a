package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/score-tracker/internal/models"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
)

func TestCourseListKey(t *testing.T) {
	assert.Equal(t, "courses:u1:-:-", CourseListKey(models.CourseFilter{UserID: "u1"}))
	assert.Equal(t, "courses:u1:2023-2024:2", CourseListKey(models.CourseFilter{UserID: "u1", Year: "2023-2024", Semester: "2"}))
	assert.Equal(t, "courses:u1:*", CourseUserPattern("u1"))
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil)
	ctx := context.Background()

	var dest []models.Course
	assert.ErrorIs(t, repo.Get(ctx, "k", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "k", dest, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "k*"))
	assert.NoError(t, repo.Close())
}
