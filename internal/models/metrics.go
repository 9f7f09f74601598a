package models

import "time"

// MetricsSnapshot aggregates process counters for the stats endpoint.
type MetricsSnapshot struct {
	SyncRuns            uint64    `json:"sync_runs"`
	CoursesDecoded      uint64    `json:"courses_decoded"`
	DecodeFailures      uint64    `json:"decode_failures"`
	NewCourses          uint64    `json:"new_courses"`
	ChangedCourses      uint64    `json:"changed_courses"`
	UnchangedCourses    uint64    `json:"unchanged_courses"`
	NotificationsSent   uint64    `json:"notifications_sent"`
	NotificationsFailed uint64    `json:"notifications_failed"`
	CacheHitRatio       float64   `json:"cache_hit_ratio"`
	RequestsTotal       uint64    `json:"requests_total"`
	DBQueryCount        uint64    `json:"db_query_count"`
	Goroutines          int       `json:"goroutines"`
	GeneratedAt         time.Time `json:"generated_at"`
}
