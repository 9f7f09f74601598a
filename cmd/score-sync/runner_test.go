package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/legacy"
	"github.com/noah-isme/score-tracker/internal/models"
	"github.com/noah-isme/score-tracker/internal/parser"
	"github.com/noah-isme/score-tracker/internal/portal"
	"github.com/noah-isme/score-tracker/internal/repository"
	"github.com/noah-isme/score-tracker/internal/service"
	"github.com/noah-isme/score-tracker/pkg/config"
	"github.com/noah-isme/score-tracker/pkg/database"
	"github.com/noah-isme/score-tracker/pkg/storage"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.CourseNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, payload models.CourseNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, payload)
	return nil
}

// portalPayload builds a page-state blob holding one row per course: 19 layout cells, then
// 22 cells per course with the scored columns at their portal positions.
func portalPayload(courses ...models.Course) string {
	var b strings.Builder
	cell := func(v string) { fmt.Fprintf(&b, "t<l<%s;>>;", v) }
	for i := 0; i < 19; i++ {
		cell(fmt.Sprintf("layout%d", i))
	}
	for _, c := range courses {
		slots := make([]string, 22)
		for i := range slots {
			slots[i] = fmt.Sprintf("col%d", i)
		}
		slots[0], slots[1], slots[2], slots[3], slots[4] = c.Year, c.Semester, c.CourseID, c.Name, c.Type
		slots[6], slots[8] = c.Credit, c.GPA
		slots[9], slots[11], slots[13] = string(c.NormalScore), string(c.RealScore), string(c.TotalScore)
		for _, s := range slots {
			cell(s)
		}
	}
	return base64.StdEncoding.EncodeToString([]byte(b.String()))
}

func writeBlob(t *testing.T, dir string, courses ...models.Course) string {
	t.Helper()
	path := filepath.Join(dir, "payload.b64")
	require.NoError(t, os.WriteFile(path, []byte(portalPayload(courses...)), 0o600))
	return path
}

func course(total string) models.Course {
	return models.Course{
		Year: "2023-2024", Semester: "1", CourseID: "B0411011S", Name: "高等数学A(上)", Type: "必修",
		Credit: "5.0", GPA: "4.2", NormalScore: "90", RealScore: "80", TotalScore: models.Score(total),
	}
}

func TestRunnerDatabaseMode(t *testing.T) {
	dir := t.TempDir()
	db, err := database.NewSQLite(filepath.Join(dir, "scores.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.Migrate(context.Background(), db))

	courseParser := parser.New(nil, nil)
	notes := &recordingNotifier{}
	r := &runner{
		mode:    config.SyncModeDatabase,
		creds:   portal.Credentials{UserID: "u1", Year: "2023-2024"},
		decoder: courseParser,
		sync: service.NewSyncService(repository.NewCourseRepository(db, nil), courseParser, notes, nil, nil, nil, nil,
			service.SyncOptions{NotifyOnNew: true}),
		logger: zap.NewNop(),
	}

	r.fetcher = portal.FileFetcher{Path: writeBlob(t, dir, course("85"))}
	require.NoError(t, r.runOnce(context.Background()))
	require.NoError(t, r.runOnce(context.Background()))
	require.Len(t, notes.sent, 1)

	r.fetcher = portal.FileFetcher{Path: writeBlob(t, dir, course("59"))}
	require.NoError(t, r.runOnce(context.Background()))
	require.Len(t, notes.sent, 2)
	assert.True(t, notes.sent[1].IsDead)

	var total string
	require.NoError(t, db.Get(&total, "SELECT total_score FROM courses WHERE user_id = 'u1'"))
	assert.Equal(t, "59", total)
}

func TestRunnerLegacyMode(t *testing.T) {
	dir := t.TempDir()
	files, err := storage.NewLocalStorage(filepath.Join(dir, "scores"))
	require.NoError(t, err)
	notes := &recordingNotifier{}

	r := &runner{
		mode:    config.SyncModeLegacy,
		creds:   portal.Credentials{UserID: "u1", Year: "2023-2024"},
		decoder: parser.New(nil, nil),
		tracker: legacy.NewTracker(files, notes, "u1", nil),
		logger:  zap.NewNop(),
	}

	r.fetcher = portal.FileFetcher{Path: writeBlob(t, dir, course("85"))}
	require.NoError(t, r.runOnce(context.Background()))
	ok, err := files.Exists("u1.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, notes.sent, 1)

	r.fetcher = portal.FileFetcher{Path: writeBlob(t, dir, course("90"))}
	require.NoError(t, r.runOnce(context.Background()))
	require.Len(t, notes.sent, 2)
	assert.Equal(t, "90", notes.sent[1].CourseTotal)

	diff, err := files.Read(legacy.DiffFile)
	require.NoError(t, err)
	assert.Contains(t, string(diff), "90")
}

func TestRunnerDumpTokens(t *testing.T) {
	dir := t.TempDir()
	r := &runner{
		creds:   portal.Credentials{UserID: "u1", Year: "2023-2024"},
		fetcher: portal.FileFetcher{Path: writeBlob(t, dir, course("85"))},
		decoder: parser.New(nil, nil),
		logger:  zap.NewNop(),
	}

	var lines []string
	require.NoError(t, r.dumpTokens(context.Background(), func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}))
	require.Len(t, lines, 19+22)
	assert.Equal(t, "   0 layout0\n", lines[0])
	assert.Contains(t, lines[19+13], "85")
}

func TestRunnerFetchError(t *testing.T) {
	r := &runner{
		creds:   portal.Credentials{UserID: "u1", Year: "2023-2024"},
		fetcher: portal.FileFetcher{Path: filepath.Join(t.TempDir(), "missing")},
		decoder: parser.New(nil, nil),
		logger:  zap.NewNop(),
	}
	err := r.runOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch scores for u1")
}
