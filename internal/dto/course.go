package dto

import (
	"time"

	"github.com/noah-isme/score-tracker/internal/models"
)

// CourseResponse is the API view of a stored course.
type CourseResponse struct {
	Year        string `json:"year"`
	Semester    string `json:"semester"`
	CourseID    string `json:"course_id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Credit      string `json:"credit"`
	GPA         string `json:"gpa"`
	NormalScore string `json:"normal_score"`
	RealScore   string `json:"real_score"`
	TotalScore  string `json:"total_score"`
	IsDead      bool   `json:"is_dead"`
}

// NewCourseResponse maps a stored course.
func NewCourseResponse(c models.Course) CourseResponse {
	return CourseResponse{
		Year:        c.Year,
		Semester:    c.Semester,
		CourseID:    c.CourseID,
		Name:        c.Name,
		Type:        c.Type,
		Credit:      c.Credit,
		GPA:         c.GPA,
		NormalScore: string(c.NormalScore),
		RealScore:   string(c.RealScore),
		TotalScore:  string(c.TotalScore),
		IsDead:      c.IsDead(),
	}
}

// NewCourseResponses maps a listing, never returning nil.
func NewCourseResponses(courses []models.Course) []CourseResponse {
	out := make([]CourseResponse, 0, len(courses))
	for _, c := range courses {
		out = append(out, NewCourseResponse(c))
	}
	return out
}

// SyncPayload is the body of a sync request.
type SyncPayload struct {
	Blob string `json:"blob" binding:"required"`
}

// SyncAccepted is returned once a sync run is queued.
type SyncAccepted struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// SyncStatusResponse reports a queued or finished sync run.
type SyncStatusResponse struct {
	JobID      string      `json:"job_id"`
	State      string      `json:"state"`
	Attempt    int         `json:"attempt"`
	Error      string      `json:"error,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}
