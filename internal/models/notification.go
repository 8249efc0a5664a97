package models

import (
	"time"
)

// Notification is an in-app message delivered to a single recipient.
type Notification struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	ActivityID string     `json:"activity_id,omitempty" db:"activity_id"`
	Severity   Severity   `json:"severity" db:"severity"`
	Title      string     `json:"title" db:"title"`
	Message    string     `json:"message" db:"message"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty" db:"read_at"`
}
