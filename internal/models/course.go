package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Score is a score as the portal serialises it: a numeric string, a letter grade or an absent sentinel.
type Score string

// LetterGrade is one of the five fixed grade tokens the portal emits instead of a number.
type LetterGrade string

const (
	GradeExcellent LetterGrade = "优秀"
	GradeGood      LetterGrade = "良好"
	GradeAverage   LetterGrade = "中等"
	GradePass      LetterGrade = "及格"
	GradeFail      LetterGrade = "不及格"
)

// ScoreNull is the in-band "absent" token produced by the decoder for empty table cells.
const ScoreNull Score = "NULL"

// PassingScore is the lowest numeric total that is not a failure.
const PassingScore = 60

var letterGrades = map[LetterGrade]struct{}{
	GradeExcellent: {},
	GradeGood:      {},
	GradeAverage:   {},
	GradePass:      {},
	GradeFail:      {},
}

// IsAbsent reports whether the score is one of the absent sentinels ("" or "NULL").
func (s Score) IsAbsent() bool {
	return s == "" || s == ScoreNull
}

// Numeric parses the score as a number.
func (s Score) Numeric() (float64, bool) {
	if s.IsAbsent() {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Grade returns the letter grade when the score is one.
func (s Score) Grade() (LetterGrade, bool) {
	g := LetterGrade(s)
	_, ok := letterGrades[g]
	return g, ok
}

// Failed reports whether the score is a failing total.
func (s Score) Failed() bool {
	if v, ok := s.Numeric(); ok {
		return v < PassingScore
	}
	return LetterGrade(s) == GradeFail
}

// Normalized maps absent sentinels to "0"; the storage schema has no nullable score column.
func (s Score) Normalized() Score {
	if s.IsAbsent() {
		return "0"
	}
	return s
}

// CourseKey is the natural key of a stored course result.
type CourseKey struct {
	UserID   string `db:"user_id" json:"user_id"`
	CourseID string `db:"course_id" json:"course_id"`
	Year     string `db:"year" json:"year"`
	Semester string `db:"semester" json:"semester"`
}

// String renders the key for logs and cache keys.
func (k CourseKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.UserID, k.Year, k.Semester, k.CourseID)
}

// Course is one student's result for one course offering.
type Course struct {
	Year        string `db:"year" json:"year"`
	Semester    string `db:"semester" json:"semester"`
	CourseID    string `db:"course_id" json:"course_id"`
	Name        string `db:"name" json:"name"`
	Type        string `db:"type" json:"type"`
	Credit      string `db:"credit" json:"credit"`
	GPA         string `db:"gpa" json:"gpa"`
	NormalScore Score  `db:"normal_score" json:"normal_score"`
	RealScore   Score  `db:"real_score" json:"real_score"`
	TotalScore  Score  `db:"total_score" json:"total_score"`
	UserID      string `db:"user_id" json:"user_id"`
}

// IsDead reports a failed course. It is always derived from TotalScore.
func (c Course) IsDead() bool {
	return c.TotalScore.Failed()
}

// Key returns the natural key.
func (c Course) Key() CourseKey {
	return CourseKey{UserID: c.UserID, CourseID: c.CourseID, Year: c.Year, Semester: c.Semester}
}

// SameKey reports whether both courses identify the same stored row.
func (c Course) SameKey(other Course) bool {
	return c.Key() == other.Key()
}

// Equal compares course content only. UserID is deliberately excluded so results can be
// compared across accounts; use SameKey for identity.
func (c Course) Equal(other Course) bool {
	return c.Year == other.Year &&
		c.Semester == other.Semester &&
		c.CourseID == other.CourseID &&
		c.Name == other.Name &&
		c.Type == other.Type &&
		c.Credit == other.Credit &&
		c.GPA == other.GPA &&
		c.NormalScore == other.NormalScore &&
		c.RealScore == other.RealScore &&
		c.TotalScore == other.TotalScore &&
		c.IsDead() == other.IsDead()
}

// String renders a one-line summary, omitting absent component scores.
func (c Course) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - Year: %s, Semester: %s, Credit: %s, GPA: %s, Total Score: %s, Failed: %t",
		c.Name, c.Year, c.Semester, c.Credit, c.GPA, c.TotalScore, c.IsDead())
	if !c.NormalScore.IsAbsent() {
		fmt.Fprintf(&b, ", Normal Score: %s", c.NormalScore)
	}
	if !c.RealScore.IsAbsent() {
		fmt.Fprintf(&b, ", Real Score: %s", c.RealScore)
	}
	return b.String()
}

// Notification builds the webhook payload for the course.
func (c Course) Notification() CourseNotification {
	return CourseNotification{
		IsDead:       c.IsDead(),
		CourseName:   c.Name,
		Year:         c.Year,
		Semester:     c.Semester,
		CourseCredit: c.Credit,
		CourseGPA:    c.GPA,
		CourseNormal: string(c.NormalScore),
		CourseReal:   string(c.RealScore),
		CourseTotal:  string(c.TotalScore),
	}
}

// CourseNotification is the JSON body posted to the webhook for a new or changed course.
type CourseNotification struct {
	IsDead       bool   `json:"isDead"`
	CourseName   string `json:"courseName"`
	Year         string `json:"year"`
	Semester     string `json:"semester"`
	CourseCredit string `json:"courseCredit"`
	CourseGPA    string `json:"courseGPA"`
	CourseNormal string `json:"courseNormal"`
	CourseReal   string `json:"courseReal"`
	CourseTotal  string `json:"courseTotal"`
}

// CourseFilter scopes course listings.
type CourseFilter struct {
	UserID   string `validate:"required"`
	Year     string
	Semester string
}

// ChangeKind classifies an incoming course against stored state.
type ChangeKind string

const (
	// ChangeNew means no row exists for the natural key.
	ChangeNew ChangeKind = "new"
	// ChangeChanged means a row exists with a different total score.
	ChangeChanged ChangeKind = "changed"
	// ChangeUnchanged means the stored total score already matches.
	ChangeUnchanged ChangeKind = "unchanged"
)
