package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/models"
	"github.com/noah-isme/score-tracker/internal/repository"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
)

// CacheRepository abstracts the store behind cached course listings.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService caches course listings per user and filter. A nil or disabled service
// behaves as a permanent miss, and cache faults never fail a read.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Courses returns the cached listing for filter, reporting whether it was a hit.
func (s *CacheService) Courses(ctx context.Context, filter models.CourseFilter) ([]models.Course, bool) {
	if !s.Enabled() {
		return nil, false
	}
	key := repository.CourseListKey(filter)
	start := time.Now()
	var courses []models.Course
	err := s.repo.Get(ctx, key, &courses)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return courses, true
}

// StoreCourses caches a listing under filter.
func (s *CacheService) StoreCourses(ctx context.Context, filter models.CourseFilter, courses []models.Course) error {
	if !s.Enabled() {
		return nil
	}
	key := repository.CourseListKey(filter)
	start := time.Now()
	err := s.repo.Set(ctx, key, courses, s.ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	return err
}

// InvalidateUser drops every cached listing of userID.
func (s *CacheService) InvalidateUser(ctx context.Context, userID string) error {
	if !s.Enabled() {
		return nil
	}
	pattern := repository.CourseUserPattern(userID)
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		return err
	}
	s.logger.Debug("course cache invalidated", zap.String("user_id", userID))
	return nil
}
