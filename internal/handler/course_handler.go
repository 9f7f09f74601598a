package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/score-tracker/internal/dto"
	"github.com/noah-isme/score-tracker/internal/models"
	"github.com/noah-isme/score-tracker/internal/service"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
	"github.com/noah-isme/score-tracker/pkg/response"
)

type courseService interface {
	ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, error)
	DeleteCourse(ctx context.Context, key models.CourseKey) error
	Enqueue(req service.SyncRequest) (*dto.SyncAccepted, error)
	JobStatus(jobID, userID string) (*dto.SyncStatusResponse, error)
}

type courseExporter interface {
	Export(ctx context.Context, filter models.CourseFilter, format string) (*service.ExportFile, error)
}

// CourseHandler exposes stored course results and sync runs.
type CourseHandler struct {
	courses  courseService
	exporter courseExporter
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(courses courseService, exporter courseExporter) *CourseHandler {
	return &CourseHandler{courses: courses, exporter: exporter}
}

func courseFilter(c *gin.Context) models.CourseFilter {
	return models.CourseFilter{
		UserID:   c.Param("userId"),
		Year:     c.Query("year"),
		Semester: c.Query("semester"),
	}
}

// List godoc
// @Summary List stored courses
// @Tags Courses
// @Produce json
// @Param userId path string true "User ID"
// @Param year query string false "Academic year"
// @Param semester query string false "Semester"
// @Success 200 {object} response.Envelope
// @Router /api/v1/users/{userId}/courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter := courseFilter(c)
	courses, err := h.courses.ListCourses(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	failed := 0
	for _, course := range courses {
		if course.IsDead() {
			failed++
		}
	}
	response.JSON(c, http.StatusOK, dto.NewCourseResponses(courses), map[string]interface{}{
		"total":  len(courses),
		"failed": failed,
	})
}

// Export godoc
// @Summary Export stored courses
// @Tags Courses
// @Produce text/csv
// @Produce application/pdf
// @Param userId path string true "User ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /api/v1/users/{userId}/courses/export [get]
func (h *CourseHandler) Export(c *gin.Context) {
	file, err := h.exporter.Export(c.Request.Context(), courseFilter(c), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Delete godoc
// @Summary Delete a stored course
// @Tags Courses
// @Param userId path string true "User ID"
// @Param courseId path string true "Course ID"
// @Param year query string true "Academic year"
// @Param semester query string true "Semester"
// @Success 204
// @Router /api/v1/users/{userId}/courses/{courseId} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	key := models.CourseKey{
		UserID:   c.Param("userId"),
		CourseID: c.Param("courseId"),
		Year:     c.Query("year"),
		Semester: c.Query("semester"),
	}
	if err := h.courses.DeleteCourse(c.Request.Context(), key); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Sync godoc
// @Summary Queue a sync run
// @Tags Sync
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param payload body dto.SyncPayload true "Portal payload"
// @Success 202 {object} response.Envelope
// @Router /api/v1/users/{userId}/sync [post]
func (h *CourseHandler) Sync(c *gin.Context) {
	var payload dto.SyncPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	accepted, err := h.courses.Enqueue(service.SyncRequest{UserID: c.Param("userId"), Blob: payload.Blob})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, accepted)
}

// SyncStatus godoc
// @Summary Sync run status
// @Tags Sync
// @Produce json
// @Param userId path string true "User ID"
// @Param jobId path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /api/v1/users/{userId}/sync/{jobId} [get]
func (h *CourseHandler) SyncStatus(c *gin.Context) {
	status, err := h.courses.JobStatus(c.Param("jobId"), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}
