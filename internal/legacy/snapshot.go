// Package legacy implements the file-based tracking mode: a labelled text snapshot of all
// courses, a line diff against the previous snapshot and one file per course.
package legacy

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/noah-isme/score-tracker/internal/models"
)

const nameLabel = "课程名称"

type field struct {
	label string
	get   func(models.Course) string
	set   func(*models.Course, string)
}

// Snapshot line order. The name line is emitted between the course id and the type.
var (
	headFields = []field{
		{"学年", func(c models.Course) string { return c.Year }, func(c *models.Course, v string) { c.Year = v }},
		{"学期", func(c models.Course) string { return c.Semester }, func(c *models.Course, v string) { c.Semester = v }},
		{"课程号", func(c models.Course) string { return c.CourseID }, func(c *models.Course, v string) { c.CourseID = v }},
	}
	tailFields = []field{
		{"课程性质", func(c models.Course) string { return c.Type }, func(c *models.Course, v string) { c.Type = v }},
		{"学分", func(c models.Course) string { return c.Credit }, func(c *models.Course, v string) { c.Credit = v }},
		{"绩点", func(c models.Course) string { return c.GPA }, func(c *models.Course, v string) { c.GPA = v }},
		{"平时分", func(c models.Course) string { return string(c.NormalScore) }, func(c *models.Course, v string) { c.NormalScore = models.Score(v) }},
		{"卷面分", func(c models.Course) string { return string(c.RealScore) }, func(c *models.Course, v string) { c.RealScore = models.Score(v) }},
		{"总分", func(c models.Course) string { return string(c.TotalScore) }, func(c *models.Course, v string) { c.TotalScore = models.Score(v) }},
	}
)

const totalLabel = "总分"

var allFields = append(append([]field{}, headFields...), tailFields...)

// RenderSnapshot renders every course as a block of name-prefixed labelled lines.
func RenderSnapshot(courses []models.Course) string {
	var b strings.Builder
	for _, c := range courses {
		writeBlock(&b, c, c.Name+"-")
	}
	return b.String()
}

// RenderCourseFile renders one course with plain labels.
func RenderCourseFile(course models.Course) string {
	var b strings.Builder
	writeBlock(&b, course, "")
	return b.String()
}

func writeBlock(b *strings.Builder, c models.Course, prefix string) {
	for _, f := range headFields {
		fmt.Fprintf(b, "%s%s: %s\n", prefix, f.label, f.get(c))
	}
	fmt.Fprintf(b, "%s: %s\n", nameLabel, c.Name)
	for _, f := range tailFields {
		fmt.Fprintf(b, "%s%s: %s\n", prefix, f.label, f.get(c))
	}
	b.WriteString("\n")
}

// ParseSnapshot reads a snapshot back into courses. A record is emitted at its total score line.
func ParseSnapshot(content string) []models.Course {
	courses := make([]models.Course, 0)
	var current models.Course
	for _, line := range strings.Split(content, "\n") {
		if value, ok := strings.CutPrefix(line, nameLabel+": "); ok {
			current.Name = strings.TrimSpace(value)
			continue
		}
		// Names may contain ": ", values never do.
		idx := strings.LastIndex(line, ": ")
		if idx < 0 {
			continue
		}
		label := line[:idx]
		value := strings.TrimSpace(line[idx+2:])

		for _, f := range allFields {
			if label != f.label && !strings.HasSuffix(label, "-"+f.label) {
				continue
			}
			f.set(&current, value)
			if f.label == totalLabel {
				courses = append(courses, current)
				current = models.Course{}
			}
			break
		}
	}
	return courses
}

// Diff compares two snapshots line by line and returns removed lines prefixed "- " and added
// lines prefixed "+ ", trimmed, in document order.
func Diff(previous, current string) []string {
	a := splitLines(previous)
	b := splitLines(current)

	out := make([]string, 0)
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'r':
			out = appendPrefixed(out, "- ", a[op.I1:op.I2])
			out = appendPrefixed(out, "+ ", b[op.J1:op.J2])
		case 'd':
			out = appendPrefixed(out, "- ", a[op.I1:op.I2])
		case 'i':
			out = appendPrefixed(out, "+ ", b[op.J1:op.J2])
		}
	}
	return out
}

func appendPrefixed(out []string, prefix string, lines []string) []string {
	for _, line := range lines {
		out = append(out, strings.TrimSpace(prefix+line))
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
