package legacy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/models"
	"github.com/noah-isme/score-tracker/internal/notifier"
)

// DiffFile holds the changed lines of the latest comparison.
const DiffFile = "score.diff"

type fileStore interface {
	Save(filename string, data []byte) (string, error)
	Read(filename string) ([]byte, error)
	Exists(filename string) (bool, error)
	Delete(filename string) error
}

// Report summarises one tracker run.
type Report struct {
	SnapshotFile string   `json:"snapshot_file"`
	Diff         []string `json:"diff"`
	Created      []string `json:"created"`
	Updated      []string `json:"updated"`
	Notified     int      `json:"notified"`
	Failed       int      `json:"failed"`
}

// Tracker maintains the snapshot, diff and per-course files for one account.
type Tracker struct {
	files    fileStore
	notifier notifier.Notifier
	logger   *zap.Logger
	name     string
}

// NewTracker constructs a tracker whose main snapshot is name.txt.
func NewTracker(files fileStore, n notifier.Notifier, name string, logger *zap.Logger) *Tracker {
	if n == nil {
		n = notifier.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{files: files, notifier: n, logger: logger, name: name}
}

// Run records courses. The first run writes the main snapshot; later runs write an alternate
// snapshot, diff it against the main one, then replace the main snapshot.
//
// A course is new when its per-course file is missing and changed when its display name occurs
// anywhere in the diff text and its per-course file differs from what would be written now.
// The name match is a substring test; the file comparison keeps it from re-notifying a course
// that is already recorded.
func (t *Tracker) Run(ctx context.Context, courses []models.Course) (*Report, error) {
	mainFile := t.name + ".txt"
	content := RenderSnapshot(courses)
	report := &Report{Diff: []string{}, Created: []string{}, Updated: []string{}}

	mainExists, err := t.files.Exists(mainFile)
	if err != nil {
		return nil, err
	}

	var alternate string
	if mainExists {
		if alternate, err = t.availableName(); err != nil {
			return nil, err
		}
		if _, err := t.files.Save(alternate, []byte(content)); err != nil {
			return nil, err
		}
		previous, err := t.files.Read(mainFile)
		if err != nil {
			return nil, err
		}
		report.Diff = Diff(string(previous), content)
		diffBody := strings.Join(report.Diff, "\n")
		if diffBody != "" {
			diffBody += "\n"
		}
		if _, err := t.files.Save(DiffFile, []byte(diffBody)); err != nil {
			return nil, err
		}
		report.SnapshotFile = alternate
		t.logger.Info("snapshot compared", zap.String("previous", mainFile), zap.String("current", alternate), zap.Int("changed_lines", len(report.Diff)))
	} else {
		if _, err := t.files.Save(mainFile, []byte(content)); err != nil {
			return nil, err
		}
		report.SnapshotFile = mainFile
	}

	diffText := strings.Join(report.Diff, "\n")
	keepPrevious := false
	// Notifications are built from the rendered snapshot so they carry exactly what was recorded.
	for _, course := range ParseSnapshot(content) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		file := courseFileName(course)
		exists, err := t.files.Exists(file)
		if err != nil {
			return report, err
		}
		rendered := RenderCourseFile(course)
		changed := false
		if exists {
			if !strings.Contains(diffText, course.Name) {
				continue
			}
			recorded, err := t.files.Read(file)
			if err != nil {
				return report, err
			}
			// A kept snapshot still diffs against courses already recorded and notified.
			if string(recorded) == rendered {
				continue
			}
			changed = true
		}

		if err := t.notifier.Notify(ctx, course.Notification()); err != nil {
			report.Failed++
			if changed {
				keepPrevious = true
			}
			t.logger.Warn("course notification failed, course file left as is", zap.String("course", course.Name), zap.Error(err))
			continue
		}
		if !notifier.IsNoop(t.notifier) {
			report.Notified++
		}

		if _, err := t.files.Save(file, []byte(rendered)); err != nil {
			return report, err
		}
		if changed {
			report.Updated = append(report.Updated, file)
		} else {
			report.Created = append(report.Created, file)
		}
	}

	if mainExists {
		if keepPrevious {
			t.logger.Warn("keeping previous snapshot so failed changes are detected again", zap.String("snapshot", mainFile))
		} else if _, err := t.files.Save(mainFile, []byte(content)); err != nil {
			return report, err
		}
		if err := t.files.Delete(alternate); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (t *Tracker) availableName() (string, error) {
	for suffix := 2; ; suffix++ {
		candidate := fmt.Sprintf("%s-%d.txt", t.name, suffix)
		exists, err := t.files.Exists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_")

func courseFileName(course models.Course) string {
	return fileNameReplacer.Replace(course.Name) + ".txt"
}
