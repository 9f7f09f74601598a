package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/score-tracker/internal/models"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
	"github.com/noah-isme/score-tracker/pkg/export"
)

type stubCourseLister struct {
	courses []models.Course
	err     error
	filter  models.CourseFilter
}

func (s *stubCourseLister) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	s.filter = filter
	return s.courses, s.err
}

type capturePDF struct {
	title   string
	dataset export.Dataset
}

func (c *capturePDF) Render(data export.Dataset, title string) ([]byte, error) {
	c.title = title
	c.dataset = data
	return []byte("%PDF-stub"), nil
}

func newExportService(lister courseLister, pdf pdfRenderer) *ExportService {
	svc := NewExportService(lister, export.NewCSVExporter(false), pdf, nil)
	svc.now = func() time.Time { return time.Date(2024, 2, 1, 8, 30, 0, 0, time.UTC) }
	return svc
}

func TestExportCSV(t *testing.T) {
	lister := &stubCourseLister{courses: []models.Course{mathCourse("92"), physicsCourse("55")}}
	svc := newExportService(lister, nil)

	file, err := svc.Export(context.Background(), models.CourseFilter{UserID: "u1", Year: "2023-2024"}, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "scores_u1_2023-2024_20240201083000.csv", file.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)

	lines := strings.Split(strings.TrimSpace(string(file.Data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(courseExportHeaders, ","), lines[0])
	assert.True(t, strings.HasSuffix(lines[2], ",NULL,NULL,55,true"))
	assert.Equal(t, "2023-2024", lister.filter.Year)
}

func TestExportPDFUsesTitle(t *testing.T) {
	pdf := &capturePDF{}
	svc := newExportService(&stubCourseLister{courses: []models.Course{mathCourse("92")}}, pdf)

	file, err := svc.Export(context.Background(), models.CourseFilter{UserID: "u1", Semester: "2"}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.Equal(t, "scores_u1_s2_20240201083000.pdf", file.Filename)
	assert.Equal(t, "scores u1 semester 2", pdf.title)
	assert.Len(t, pdf.dataset.Rows, 1)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := newExportService(&stubCourseLister{}, nil)
	_, err := svc.Export(context.Background(), models.CourseFilter{UserID: "u1"}, "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportPropagatesListError(t *testing.T) {
	svc := newExportService(&stubCourseLister{err: errors.New("db down")}, nil)
	_, err := svc.Export(context.Background(), models.CourseFilter{UserID: "u1"}, "")
	assert.EqualError(t, err, "db down")
}
