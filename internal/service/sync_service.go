package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/models"
	"github.com/noah-isme/score-tracker/internal/notifier"
	"github.com/noah-isme/score-tracker/internal/parser"
	"github.com/noah-isme/score-tracker/internal/repository"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
)

type courseStore interface {
	Find(ctx context.Context, key models.CourseKey) (*models.Course, error)
	Insert(ctx context.Context, course models.Course) error
	UpdateScores(ctx context.Context, course models.Course) error
	ListByUser(ctx context.Context, filter models.CourseFilter) ([]models.Course, error)
	Delete(ctx context.Context, key models.CourseKey) error
}

type courseDecoder interface {
	Tokens(blob string) ([]string, error)
	Parse(blob, userID string) []models.Course
}

// SyncRequest carries one portal payload to reconcile for a user.
type SyncRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Blob   string `json:"blob" validate:"required"`
}

// SyncOptions tunes the notification policy.
type SyncOptions struct {
	// NotifyOnNew controls whether first-seen courses are announced. Changed courses always are.
	NotifyOnNew bool
}

// SyncOutcome records what happened to one incoming course.
type SyncOutcome struct {
	Course    models.Course     `json:"course"`
	Kind      models.ChangeKind `json:"kind,omitempty"`
	Previous  models.Score      `json:"previous_total,omitempty"`
	Notified  bool              `json:"notified"`
	Committed bool              `json:"committed"`
	Error     error             `json:"-"`
	Message   string            `json:"error,omitempty"`
}

// SyncResult aggregates a reconcile pass.
type SyncResult struct {
	UserID     string        `json:"user_id"`
	Decoded    int           `json:"decoded"`
	New        int           `json:"new"`
	Changed    int           `json:"changed"`
	Unchanged  int           `json:"unchanged"`
	Notified   int           `json:"notified"`
	Committed  int           `json:"committed"`
	Failed     int           `json:"failed"`
	Outcomes   []SyncOutcome `json:"outcomes"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (r *SyncResult) add(outcome SyncOutcome) {
	switch outcome.Kind {
	case models.ChangeNew:
		r.New++
	case models.ChangeChanged:
		r.Changed++
	case models.ChangeUnchanged:
		r.Unchanged++
	}
	if outcome.Notified {
		r.Notified++
	}
	if outcome.Committed {
		r.Committed++
	}
	if outcome.Error != nil {
		outcome.Message = outcome.Error.Error()
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, outcome)
}

// SyncService detects new and changed course results and persists them after notifying.
type SyncService struct {
	store     courseStore
	decoder   courseDecoder
	notifier  notifier.Notifier
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	opts      SyncOptions
	queue     syncQueue
}

// NewSyncService constructs a SyncService. A nil or Noop notifier disables notification.
func NewSyncService(store courseStore, decoder courseDecoder, n notifier.Notifier, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, opts SyncOptions) *SyncService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if n == nil {
		n = notifier.Noop{}
	}
	return &SyncService{
		store:     store,
		decoder:   decoder,
		notifier:  n,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		opts:      opts,
	}
}

// Classify compares course against stored state for userID and returns the stored row when present.
func (s *SyncService) Classify(ctx context.Context, course models.Course, userID string) (models.ChangeKind, *models.Course, error) {
	course.UserID = userID
	prior, err := s.store.Find(ctx, course.Key())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ChangeNew, nil, nil
		}
		return "", nil, fmt.Errorf("classify course %s: %w", course.Key(), err)
	}
	// Total scores compare as text: "60" and "60.0" differ.
	if prior.TotalScore != course.TotalScore {
		return models.ChangeChanged, prior, nil
	}
	return models.ChangeUnchanged, prior, nil
}

// Exists reports whether a row with the course's natural key is stored for userID.
func (s *SyncService) Exists(ctx context.Context, course models.Course, userID string) (bool, error) {
	kind, _, err := s.Classify(ctx, course, userID)
	if err != nil {
		return false, err
	}
	return kind != models.ChangeNew, nil
}

// NeedsUpdate reports true when no row is stored or the stored total score differs.
// A missing row counts as needing an update; use Classify to tell the two apart.
func (s *SyncService) NeedsUpdate(ctx context.Context, course models.Course, userID string) (bool, error) {
	kind, _, err := s.Classify(ctx, course, userID)
	if err != nil {
		return false, err
	}
	return kind != models.ChangeUnchanged, nil
}

// Reconcile processes courses in order. Per-course failures are recorded in the result and
// never stop the batch; only context cancellation returns an error.
func (s *SyncService) Reconcile(ctx context.Context, userID string, courses []models.Course) (*SyncResult, error) {
	result := &SyncResult{UserID: userID, StartedAt: time.Now().UTC(), Outcomes: make([]SyncOutcome, 0, len(courses))}
	for _, incoming := range courses {
		if err := ctx.Err(); err != nil {
			result.FinishedAt = time.Now().UTC()
			return result, err
		}
		course := incoming
		course.UserID = userID
		result.add(s.reconcileOne(ctx, course))
	}
	result.FinishedAt = time.Now().UTC()
	return result, nil
}

func (s *SyncService) reconcileOne(ctx context.Context, course models.Course) SyncOutcome {
	outcome := SyncOutcome{Course: course}
	logger := s.logger.With(zap.String("user_id", course.UserID), zap.String("course_id", course.CourseID), zap.String("course", course.Name))

	kind, prior, err := s.Classify(ctx, course, course.UserID)
	if err != nil {
		logger.Error("course lookup failed", zap.Error(err))
		outcome.Error = err
		return outcome
	}
	outcome.Kind = kind
	s.metrics.RecordChange(kind)
	if prior != nil {
		outcome.Previous = prior.TotalScore
	}
	if kind == models.ChangeUnchanged {
		return outcome
	}

	if s.shouldNotify(kind) {
		err := s.notifier.Notify(ctx, course.Notification())
		s.metrics.RecordNotification(err)
		if err != nil {
			logger.Warn("course notification failed, leaving row uncommitted", zap.String("kind", string(kind)), zap.Error(err))
			outcome.Error = appErrors.Wrap(err, appErrors.ErrNotifyFailed.Code, appErrors.ErrNotifyFailed.Status, appErrors.ErrNotifyFailed.Message)
			return outcome
		}
		outcome.Notified = true
	}

	switch kind {
	case models.ChangeNew:
		err = s.store.Insert(ctx, course)
	case models.ChangeChanged:
		err = s.store.UpdateScores(ctx, course)
	}
	if err != nil {
		if errors.Is(err, repository.ErrCourseNotFound) {
			logger.Error("stored course vanished between lookup and update", zap.Error(err))
		} else {
			logger.Error("course persistence failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		outcome.Error = err
		return outcome
	}
	outcome.Committed = true

	if kind == models.ChangeChanged {
		logger.Info("course score changed", zap.String("from", string(outcome.Previous)), zap.String("to", string(course.TotalScore)), zap.Bool("failed", course.IsDead()))
	} else {
		logger.Info("course recorded", zap.String("total", string(course.TotalScore)), zap.Bool("failed", course.IsDead()))
	}
	return outcome
}

func (s *SyncService) shouldNotify(kind models.ChangeKind) bool {
	if notifier.IsNoop(s.notifier) {
		return false
	}
	if kind == models.ChangeNew {
		return s.opts.NotifyOnNew
	}
	return true
}

// Validate checks a request before it is queued. The payload is checked with the decoder
// itself, so anything Run can decode passes: a blob that is not base64 is a validation error
// and one without cell tokens is a decode error.
func (s *SyncService) Validate(req SyncRequest) error {
	req.Blob = compactBlob(req.Blob)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sync payload")
	}
	if _, err := s.decoder.Tokens(req.Blob); err != nil {
		if errors.Is(err, parser.ErrNoTokens) {
			return appErrors.Wrap(err, appErrors.ErrDecode.Code, appErrors.ErrDecode.Status, appErrors.ErrDecode.Message)
		}
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "sync payload is not base64")
	}
	return nil
}

// Run decodes the payload, reconciles the courses and invalidates the user's cached listings.
// Only the user id is required: a payload that cannot be decoded is logged by the decoder and
// reconciles zero courses.
func (s *SyncService) Run(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	req.Blob = compactBlob(req.Blob)
	if err := s.validator.StructPartial(req, "UserID"); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sync payload")
	}

	start := time.Now()
	courses := s.decoder.Parse(req.Blob, req.UserID)
	result, err := s.Reconcile(ctx, req.UserID, courses)
	result.Decoded = len(courses)
	s.metrics.ObserveSync(time.Since(start))

	if result.Committed > 0 {
		if cacheErr := s.cache.InvalidateUser(ctx, req.UserID); cacheErr != nil {
			s.logger.Warn("failed to invalidate course cache", zap.String("user_id", req.UserID), zap.Error(cacheErr))
		}
	}

	s.logger.Info("sync run finished",
		zap.String("user_id", req.UserID),
		zap.Int("decoded", result.Decoded),
		zap.Int("new", result.New),
		zap.Int("changed", result.Changed),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("committed", result.Committed),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)))
	return result, err
}

// ListCourses returns stored courses, served from cache when enabled.
func (s *SyncService) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course filter")
	}

	if cached, hit := s.cache.Courses(ctx, filter); hit {
		return cached, nil
	}

	courses, err := s.store.ListByUser(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if err := s.cache.StoreCourses(ctx, filter, courses); err != nil {
		s.logger.Warn("failed to cache course listing", zap.String("user_id", filter.UserID), zap.Error(err))
	}
	return courses, nil
}

// DeleteCourse removes one stored row so the next run treats the course as new.
func (s *SyncService) DeleteCourse(ctx context.Context, key models.CourseKey) error {
	if key.UserID == "" || key.CourseID == "" || key.Year == "" || key.Semester == "" {
		return appErrors.Clone(appErrors.ErrValidation, "user, course, year and semester are required")
	}
	if err := s.store.Delete(ctx, key); err != nil {
		if errors.Is(err, repository.ErrCourseNotFound) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	if err := s.cache.InvalidateUser(ctx, key.UserID); err != nil {
		s.logger.Warn("failed to invalidate course cache", zap.String("user_id", key.UserID), zap.Error(err))
	}
	return nil
}

func compactBlob(blob string) string {
	return strings.Join(strings.Fields(blob), "")
}
