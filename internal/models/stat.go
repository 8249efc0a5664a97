package models

import "time"

// ActivityStatDay holds event counts for a single day.
type ActivityStatDay struct {
	Day      time.Time `json:"day" db:"day"`
	Total    int64     `json:"total" db:"total"`
	Critical int64     `json:"critical" db:"critical"`
	High     int64     `json:"high" db:"high"`
}

// ActivitySummary is the dashboard aggregate over the whole log plus per-day details.
type ActivitySummary struct {
	Total       int64                  `json:"total"`
	Unread      int64                  `json:"unread"`
	Last24Hours int64                  `json:"last_24_hours"`
	ByKind      map[ActivityKind]int64 `json:"by_kind"`
	BySubject   map[SubjectKind]int64  `json:"by_subject"`
	BySeverity  map[Severity]int64     `json:"by_severity"`
	PerDay      []ActivityStatDay      `json:"per_day"`
}
