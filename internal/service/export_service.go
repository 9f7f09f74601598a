package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/models"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
	"github.com/noah-isme/score-tracker/pkg/export"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var courseExportHeaders = []string{"year", "semester", "course_id", "name", "type", "credit", "gpa", "normal_score", "real_score", "total_score", "failed"}

type courseLister interface {
	ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered export ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders stored course listings as CSV or PDF.
type ExportService struct {
	courses courseLister
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(courses courseLister, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter(true)
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("")
	}
	return &ExportService{courses: courses, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// Export renders the filtered course list in the requested format.
func (s *ExportService) Export(ctx context.Context, filter models.CourseFilter, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	courses, err := s.courses.ListCourses(ctx, filter)
	if err != nil {
		return nil, err
	}
	dataset := buildCourseDataset(courses)

	var payload []byte
	var contentType string
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv; charset=utf-8"
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, exportTitle(filter))
		contentType = "application/pdf"
	}
	if err != nil {
		s.logger.Error("course export failed", zap.String("user_id", filter.UserID), zap.String("format", format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	return &ExportFile{
		Filename:    s.buildFilename(filter, format),
		ContentType: contentType,
		Data:        payload,
	}, nil
}

func buildCourseDataset(courses []models.Course) export.Dataset {
	rows := make([]map[string]string, 0, len(courses))
	for _, c := range courses {
		rows = append(rows, map[string]string{
			"year":         c.Year,
			"semester":     c.Semester,
			"course_id":    c.CourseID,
			"name":         c.Name,
			"type":         c.Type,
			"credit":       c.Credit,
			"gpa":          c.GPA,
			"normal_score": string(c.NormalScore),
			"real_score":   string(c.RealScore),
			"total_score":  string(c.TotalScore),
			"failed":       fmt.Sprintf("%t", c.IsDead()),
		})
	}
	return export.Dataset{Headers: courseExportHeaders, Rows: rows}
}

func exportTitle(filter models.CourseFilter) string {
	parts := []string{"scores", filter.UserID}
	if filter.Year != "" {
		parts = append(parts, filter.Year)
	}
	if filter.Semester != "" {
		parts = append(parts, "semester "+filter.Semester)
	}
	return strings.Join(parts, " ")
}

func (s *ExportService) buildFilename(filter models.CourseFilter, format string) string {
	parts := []string{"scores", filter.UserID}
	if filter.Year != "" {
		parts = append(parts, filter.Year)
	}
	if filter.Semester != "" {
		parts = append(parts, "s"+filter.Semester)
	}
	parts = append(parts, s.now().UTC().Format("20060102150405"))
	return strings.Join(parts, "_") + "." + format
}
