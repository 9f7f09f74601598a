package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/score-tracker/internal/models"
	"github.com/noah-isme/score-tracker/internal/parser"
	"github.com/noah-isme/score-tracker/internal/repository"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
)

type mockCourseStore struct {
	rows       map[models.CourseKey]models.Course
	inserts    int
	updates    int
	findErr    error
	insertErr  error
	updateErr  error
	listCalls  int
	deletedKey *models.CourseKey
}

func newMockCourseStore(rows ...models.Course) *mockCourseStore {
	m := &mockCourseStore{rows: make(map[models.CourseKey]models.Course)}
	for _, r := range rows {
		m.rows[r.Key()] = r
	}
	return m
}

func (m *mockCourseStore) Find(ctx context.Context, key models.CourseKey) (*models.Course, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	row, ok := m.rows[key]
	if !ok {
		return nil, fmt.Errorf("find course %s: %w", key, sql.ErrNoRows)
	}
	return &row, nil
}

func (m *mockCourseStore) Insert(ctx context.Context, course models.Course) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.rows[course.Key()]; ok {
		return repository.ErrDuplicateCourse
	}
	m.inserts++
	course.NormalScore = course.NormalScore.Normalized()
	course.RealScore = course.RealScore.Normalized()
	m.rows[course.Key()] = course
	return nil
}

func (m *mockCourseStore) UpdateScores(ctx context.Context, course models.Course) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	row, ok := m.rows[course.Key()]
	if !ok {
		return fmt.Errorf("update course scores %s: %w", course.Key(), repository.ErrCourseNotFound)
	}
	m.updates++
	row.NormalScore = course.NormalScore.Normalized()
	row.RealScore = course.RealScore.Normalized()
	row.TotalScore = course.TotalScore
	m.rows[course.Key()] = row
	return nil
}

func (m *mockCourseStore) ListByUser(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	m.listCalls++
	result := make([]models.Course, 0)
	for _, row := range m.rows {
		if row.UserID != filter.UserID {
			continue
		}
		if filter.Year != "" && row.Year != filter.Year {
			continue
		}
		result = append(result, row)
	}
	return result, nil
}

func (m *mockCourseStore) Delete(ctx context.Context, key models.CourseKey) error {
	if _, ok := m.rows[key]; !ok {
		return fmt.Errorf("delete course %s: %w", key, repository.ErrCourseNotFound)
	}
	delete(m.rows, key)
	m.deletedKey = &key
	return nil
}

type mockNotifier struct {
	sent    []models.CourseNotification
	failFor map[string]error
}

func (m *mockNotifier) Notify(ctx context.Context, payload models.CourseNotification) error {
	if err, ok := m.failFor[payload.CourseName]; ok {
		return err
	}
	m.sent = append(m.sent, payload)
	return nil
}

type stubDecoder struct {
	courses []models.Course
}

func (s stubDecoder) Tokens(blob string) ([]string, error) {
	if blob == base64.StdEncoding.EncodeToString([]byte("empty")) {
		return nil, parser.ErrNoTokens
	}
	return []string{"token"}, nil
}

func (s stubDecoder) Parse(blob, userID string) []models.Course {
	out := make([]models.Course, len(s.courses))
	for i, c := range s.courses {
		c.UserID = userID
		out[i] = c
	}
	return out
}

func mathCourse(total string) models.Course {
	return models.Course{
		Year: "2023-2024", Semester: "1", CourseID: "B0411011S", Name: "高等数学A(上)", Type: "必修",
		Credit: "5.0", GPA: "4.2", NormalScore: "90", RealScore: "80", TotalScore: models.Score(total), UserID: "u1",
	}
}

func physicsCourse(total string) models.Course {
	return models.Course{
		Year: "2023-2024", Semester: "1", CourseID: "B0700011S", Name: "大学物理", Type: "必修",
		Credit: "4.0", GPA: "1.0", NormalScore: "NULL", RealScore: "NULL", TotalScore: models.Score(total), UserID: "u1",
	}
}

func newSyncService(store courseStore, n *mockNotifier, opts SyncOptions) *SyncService {
	if n == nil {
		return NewSyncService(store, stubDecoder{}, nil, nil, NewMetricsService(), nil, zap.NewNop(), opts)
	}
	return NewSyncService(store, stubDecoder{}, n, nil, NewMetricsService(), nil, zap.NewNop(), opts)
}

func TestClassify(t *testing.T) {
	store := newMockCourseStore(mathCourse("85"))
	svc := newSyncService(store, &mockNotifier{}, SyncOptions{NotifyOnNew: true})
	ctx := context.Background()

	kind, prior, err := svc.Classify(ctx, mathCourse("85"), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeUnchanged, kind)
	require.NotNil(t, prior)

	kind, prior, err = svc.Classify(ctx, mathCourse("90"), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeChanged, kind)
	assert.Equal(t, models.Score("85"), prior.TotalScore)

	kind, prior, err = svc.Classify(ctx, physicsCourse("70"), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeNew, kind)
	assert.Nil(t, prior)

	kind, _, err = svc.Classify(ctx, mathCourse("85"), "u2")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeNew, kind, "another user's row must not match")
}

func TestExistsAndNeedsUpdate(t *testing.T) {
	store := newMockCourseStore(mathCourse("85"))
	svc := newSyncService(store, &mockNotifier{}, SyncOptions{})
	ctx := context.Background()

	exists, err := svc.Exists(ctx, mathCourse("85"), "u1")
	require.NoError(t, err)
	assert.True(t, exists)
	needs, err := svc.NeedsUpdate(ctx, mathCourse("85"), "u1")
	require.NoError(t, err)
	assert.False(t, needs)

	needs, err = svc.NeedsUpdate(ctx, mathCourse("90"), "u1")
	require.NoError(t, err)
	assert.True(t, needs)

	exists, err = svc.Exists(ctx, physicsCourse("70"), "u1")
	require.NoError(t, err)
	assert.False(t, exists)
	needs, err = svc.NeedsUpdate(ctx, physicsCourse("70"), "u1")
	require.NoError(t, err)
	assert.True(t, needs, "a missing row needs an update")
}

func TestNeedsUpdateComparesTotalsAsText(t *testing.T) {
	store := newMockCourseStore(mathCourse("60"))
	svc := newSyncService(store, &mockNotifier{}, SyncOptions{})

	needs, err := svc.NeedsUpdate(context.Background(), mathCourse("60.0"), "u1")
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestClassifyPropagatesLookupErrors(t *testing.T) {
	store := newMockCourseStore()
	store.findErr = errors.New("disk I/O error")
	svc := newSyncService(store, &mockNotifier{}, SyncOptions{})

	_, _, err := svc.Classify(context.Background(), mathCourse("85"), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestReconcileNewCourseNotifiesThenInserts(t *testing.T) {
	store := newMockCourseStore()
	n := &mockNotifier{}
	svc := newSyncService(store, n, SyncOptions{NotifyOnNew: true})

	result, err := svc.Reconcile(context.Background(), "u1", []models.Course{physicsCourse("55")})
	require.NoError(t, err)

	assert.Equal(t, 1, result.New)
	assert.Equal(t, 1, result.Committed)
	require.Len(t, n.sent, 1)
	assert.True(t, n.sent[0].IsDead)
	assert.Equal(t, "NULL", n.sent[0].CourseNormal, "payload keeps the sentinel")

	stored := store.rows[physicsCourse("55").Key()]
	assert.Equal(t, models.Score("0"), stored.NormalScore, "persisted row normalizes the sentinel")
	assert.Equal(t, models.Score("55"), stored.TotalScore)
}

func TestReconcileNotifyOnNewDisabledStillInserts(t *testing.T) {
	store := newMockCourseStore()
	n := &mockNotifier{}
	svc := newSyncService(store, n, SyncOptions{NotifyOnNew: false})

	result, err := svc.Reconcile(context.Background(), "u1", []models.Course{mathCourse("85")})
	require.NoError(t, err)
	assert.Empty(t, n.sent)
	assert.Equal(t, 1, store.inserts)
	assert.False(t, result.Outcomes[0].Notified)
	assert.True(t, result.Outcomes[0].Committed)
}

func TestReconcileChangedUpdatesScoresOnly(t *testing.T) {
	stored := mathCourse("85")
	stored.Name = "高等数学"
	store := newMockCourseStore(stored)
	n := &mockNotifier{}
	svc := newSyncService(store, n, SyncOptions{})

	incoming := mathCourse("90")
	incoming.RealScore = "NULL"
	result, err := svc.Reconcile(context.Background(), "u1", []models.Course{incoming})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Changed)
	assert.Equal(t, models.Score("85"), result.Outcomes[0].Previous)
	require.Len(t, n.sent, 1, "changed courses notify even when new ones do not")
	assert.Equal(t, "90", n.sent[0].CourseTotal)

	row := store.rows[incoming.Key()]
	assert.Equal(t, models.Score("90"), row.TotalScore)
	assert.Equal(t, models.Score("0"), row.RealScore)
	assert.Equal(t, "高等数学", row.Name, "descriptive columns are not rewritten")
	assert.Equal(t, 1, store.updates)
	assert.Zero(t, store.inserts)
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newMockCourseStore()
	n := &mockNotifier{}
	svc := newSyncService(store, n, SyncOptions{NotifyOnNew: true})
	batch := []models.Course{mathCourse("85"), physicsCourse("55")}

	_, err := svc.Reconcile(context.Background(), "u1", batch)
	require.NoError(t, err)
	require.Len(t, n.sent, 2)

	second, err := svc.Reconcile(context.Background(), "u1", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Unchanged)
	assert.Zero(t, second.Committed)
	assert.Len(t, n.sent, 2, "no further notifications")
	assert.Equal(t, 2, store.inserts)
	assert.Zero(t, store.updates)
}

func TestReconcileNotifyFailureContinuesAndSkipsCommit(t *testing.T) {
	store := newMockCourseStore()
	n := &mockNotifier{failFor: map[string]error{"高等数学A(上)": errors.New("webhook responded 500")}}
	svc := newSyncService(store, n, SyncOptions{NotifyOnNew: true})

	result, err := svc.Reconcile(context.Background(), "u1", []models.Course{mathCourse("85"), physicsCourse("70")})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Committed)
	assert.False(t, result.Outcomes[0].Committed)
	assert.ErrorIs(t, result.Outcomes[0].Error, appErrors.ErrNotifyFailed)
	assert.NotEmpty(t, result.Outcomes[0].Message)
	assert.True(t, result.Outcomes[1].Committed)

	_, stored := store.rows[mathCourse("85").Key()]
	assert.False(t, stored, "failed notification leaves the course for the next run")

	n.failFor = nil
	retry, err := svc.Reconcile(context.Background(), "u1", []models.Course{mathCourse("85"), physicsCourse("70")})
	require.NoError(t, err)
	assert.Equal(t, 1, retry.New)
	assert.Equal(t, 1, retry.Unchanged)
}

func TestReconcileWithoutNotifierCommits(t *testing.T) {
	store := newMockCourseStore(mathCourse("85"))
	svc := newSyncService(store, nil, SyncOptions{NotifyOnNew: true})

	result, err := svc.Reconcile(context.Background(), "u1", []models.Course{mathCourse("91")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Committed)
	assert.Zero(t, result.Notified)
}

func TestReconcileSurfacesCourseNotFound(t *testing.T) {
	store := newMockCourseStore(mathCourse("85"))
	store.updateErr = fmt.Errorf("update course scores: %w", repository.ErrCourseNotFound)
	svc := newSyncService(store, &mockNotifier{}, SyncOptions{})

	result, err := svc.Reconcile(context.Background(), "u1", []models.Course{mathCourse("90")})
	require.NoError(t, err)
	assert.ErrorIs(t, result.Outcomes[0].Error, repository.ErrCourseNotFound)
	assert.False(t, result.Outcomes[0].Committed)
}

func TestReconcilePersistenceErrorContinues(t *testing.T) {
	store := newMockCourseStore()
	store.insertErr = errors.New("database is locked")
	svc := newSyncService(store, &mockNotifier{}, SyncOptions{NotifyOnNew: true})

	result, err := svc.Reconcile(context.Background(), "u1", []models.Course{mathCourse("85"), physicsCourse("55")})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, result.Outcomes, 2)
	assert.NotErrorIs(t, result.Outcomes[0].Error, repository.ErrCourseNotFound)
}

func TestReconcileStopsOnCancelledContext(t *testing.T) {
	svc := newSyncService(newMockCourseStore(), &mockNotifier{}, SyncOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.Reconcile(ctx, "u1", []models.Course{mathCourse("85")})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Outcomes)
}

func TestReconcileAssignsUser(t *testing.T) {
	store := newMockCourseStore()
	svc := newSyncService(store, nil, SyncOptions{})
	incoming := mathCourse("85")
	incoming.UserID = ""

	_, err := svc.Reconcile(context.Background(), "B21000001", []models.Course{incoming})
	require.NoError(t, err)
	incoming.UserID = "B21000001"
	_, ok := store.rows[incoming.Key()]
	assert.True(t, ok)
}

func TestRunDecodesAndReconciles(t *testing.T) {
	store := newMockCourseStore()
	metrics := NewMetricsService()
	svc := NewSyncService(store, stubDecoder{courses: []models.Course{mathCourse("85"), physicsCourse("40")}}, &mockNotifier{}, nil, metrics, nil, nil, SyncOptions{NotifyOnNew: true})

	result, err := svc.Run(context.Background(), SyncRequest{UserID: "u1", Blob: base64.StdEncoding.EncodeToString([]byte("payload"))})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Decoded)
	assert.Equal(t, 2, result.Committed)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.SyncRuns)
	assert.Equal(t, uint64(2), snap.NewCourses)
	assert.Equal(t, uint64(2), snap.NotificationsSent)
}

func TestRunRequiresUser(t *testing.T) {
	svc := newSyncService(newMockCourseStore(), nil, SyncOptions{})

	_, err := svc.Run(context.Background(), SyncRequest{Blob: "cGF5bG9hZA=="})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRunToleratesMalformedPayload(t *testing.T) {
	store := newMockCourseStore(mathCourse("85"))
	metrics := NewMetricsService()
	svc := NewSyncService(store, parser.New(nil, metrics), nil, nil, metrics, nil, zap.NewNop(), SyncOptions{})

	for _, blob := range []string{"not*base64", ""} {
		result, err := svc.Run(context.Background(), SyncRequest{UserID: "u1", Blob: blob})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Decoded)
		assert.Equal(t, 0, result.Committed)
		assert.Empty(t, result.Outcomes)
	}
	assert.Equal(t, uint64(2), metrics.Snapshot().DecodeFailures)
	assert.Zero(t, store.inserts)
	assert.Zero(t, store.updates)
}

func TestValidateReportsUndecodablePayload(t *testing.T) {
	svc := newSyncService(newMockCourseStore(), nil, SyncOptions{})

	err := svc.Validate(SyncRequest{UserID: "u1", Blob: base64.StdEncoding.EncodeToString([]byte("empty"))})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDecode.Code, appErrors.FromError(err).Code)

	assert.NoError(t, svc.Validate(SyncRequest{UserID: "u1", Blob: "cGF5\nbG9hZA=="}))
}

func TestValidateAcceptsWhatTheParserDecodes(t *testing.T) {
	svc := NewSyncService(newMockCourseStore(), parser.New(nil, nil), nil, nil, NewMetricsService(), nil, zap.NewNop(), SyncOptions{})
	payload := []byte("l<B0411011S;>>;")

	assert.NoError(t, svc.Validate(SyncRequest{UserID: "u1", Blob: base64.StdEncoding.EncodeToString(payload)}))
	assert.NoError(t, svc.Validate(SyncRequest{UserID: "u1", Blob: base64.RawStdEncoding.EncodeToString(payload)}))

	err := svc.Validate(SyncRequest{UserID: "u1", Blob: "***"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = svc.Validate(SyncRequest{UserID: "u1", Blob: base64.RawStdEncoding.EncodeToString([]byte("no cells"))})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDecode.Code, appErrors.FromError(err).Code)

	err = svc.Validate(SyncRequest{UserID: "u1", Blob: ""})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestListCoursesWithoutCache(t *testing.T) {
	store := newMockCourseStore(mathCourse("85"), physicsCourse("40"))
	svc := newSyncService(store, nil, SyncOptions{})

	courses, err := svc.ListCourses(context.Background(), models.CourseFilter{UserID: "u1", Year: "2023-2024"})
	require.NoError(t, err)
	assert.Len(t, courses, 2)

	_, err = svc.ListCourses(context.Background(), models.CourseFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestListCoursesUsesCache(t *testing.T) {
	store := newMockCourseStore(mathCourse("85"))
	cache := NewCacheService(newMemoryCache(), nil, 0, nil, true)
	svc := NewSyncService(store, stubDecoder{}, nil, cache, nil, nil, nil, SyncOptions{})
	filter := models.CourseFilter{UserID: "u1"}

	first, err := svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	second, err := svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.listCalls)
}

func TestListCoursesSurvivesCacheWriteFault(t *testing.T) {
	store := newMockCourseStore(mathCourse("85"))
	cache := newMemoryCache()
	cache.setErr = errors.New("redis down")
	core, logs := observer.New(zap.WarnLevel)
	svc := NewSyncService(store, stubDecoder{}, nil, NewCacheService(cache, nil, 0, nil, true), nil, nil, zap.New(core), SyncOptions{})
	filter := models.CourseFilter{UserID: "u1"}

	courses, err := svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, courses, 1)

	_, err = svc.ListCourses(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls)
	assert.Equal(t, 2, logs.FilterMessage("failed to cache course listing").FilterField(zap.String("user_id", "u1")).Len())
}

func TestDeleteCourse(t *testing.T) {
	store := newMockCourseStore(mathCourse("85"))
	cache := newMemoryCache()
	svc := NewSyncService(store, stubDecoder{}, nil, NewCacheService(cache, nil, 0, nil, true), nil, nil, nil, SyncOptions{})
	ctx := context.Background()

	require.NoError(t, svc.DeleteCourse(ctx, mathCourse("85").Key()))
	require.NotNil(t, store.deletedKey)
	assert.Equal(t, []string{"courses:u1:*"}, cache.invalidated)

	err := svc.DeleteCourse(ctx, mathCourse("85").Key())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	err = svc.DeleteCourse(ctx, models.CourseKey{UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
