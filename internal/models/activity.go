package models

import (
	"strings"
	"time"
)

type ActivityKind string

const (
	ActivityCreate           ActivityKind = "CREATE"
	ActivityUpdate           ActivityKind = "UPDATE"
	ActivityDelete           ActivityKind = "DELETE"
	ActivityView             ActivityKind = "VIEW"
	ActivityLogin            ActivityKind = "LOGIN"
	ActivityLogout           ActivityKind = "LOGOUT"
	ActivityLoginFailed      ActivityKind = "LOGIN_FAILED"
	ActivityUpload           ActivityKind = "UPLOAD"
	ActivityDownload         ActivityKind = "DOWNLOAD"
	ActivityExport           ActivityKind = "EXPORT"
	ActivityImport           ActivityKind = "IMPORT"
	ActivityApprove          ActivityKind = "APPROVE"
	ActivityReject           ActivityKind = "REJECT"
	ActivityPasswordChange   ActivityKind = "PASSWORD_CHANGE"
	ActivityPermissionChange ActivityKind = "PERMISSION_CHANGE"
)

var activityKinds = map[ActivityKind]struct{}{
	ActivityCreate: {}, ActivityUpdate: {}, ActivityDelete: {}, ActivityView: {},
	ActivityLogin: {}, ActivityLogout: {}, ActivityLoginFailed: {}, ActivityUpload: {},
	ActivityDownload: {}, ActivityExport: {}, ActivityImport: {}, ActivityApprove: {},
	ActivityReject: {}, ActivityPasswordChange: {}, ActivityPermissionChange: {},
}

func (k ActivityKind) IsValid() bool {
	_, ok := activityKinds[k]
	return ok
}

type SubjectKind string

const (
	SubjectUser        SubjectKind = "USER"
	SubjectRole        SubjectKind = "ROLE"
	SubjectProgram     SubjectKind = "PROGRAM"
	SubjectOutput      SubjectKind = "OUTPUT"
	SubjectSatker      SubjectKind = "SATKER"
	SubjectProvince    SubjectKind = "PROVINCE"
	SubjectDirectorate SubjectKind = "DIRECTORATE"
	SubjectActivity    SubjectKind = "ACTIVITY"
	SubjectStage       SubjectKind = "STAGE"
	SubjectSystem      SubjectKind = "SYSTEM"
	SubjectFile        SubjectKind = "FILE"
	SubjectAuth        SubjectKind = "AUTH"
)

var subjectKinds = map[SubjectKind]struct{}{
	SubjectUser: {}, SubjectRole: {}, SubjectProgram: {}, SubjectOutput: {},
	SubjectSatker: {}, SubjectProvince: {}, SubjectDirectorate: {}, SubjectActivity: {},
	SubjectStage: {}, SubjectSystem: {}, SubjectFile: {}, SubjectAuth: {},
}

func (k SubjectKind) IsValid() bool {
	_, ok := subjectKinds[k]
	return ok
}

// Severity is ordered: LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Severities lists every severity from lowest to highest.
func Severities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns 0 for unknown severities.
func (s Severity) Rank() int {
	return severityRank[s]
}

func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.IsValid()
}

// ActorRef identifies a user that acted or must be notified.
type ActorRef struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// ActivityEvent is one audit record. Empty optional strings are stored as NULL.
type ActivityEvent struct {
	ID               string       `json:"id" db:"id"`
	ActivityKind     ActivityKind `json:"activity_kind" db:"activity_kind"`
	SubjectKind      SubjectKind  `json:"subject_kind" db:"subject_kind"`
	SubjectID        string       `json:"subject_id,omitempty" db:"subject_id"`
	SubjectName      string       `json:"subject_name,omitempty" db:"subject_name"`
	Description      string       `json:"description" db:"description"`
	Details          string       `json:"details,omitempty" db:"details"`
	Severity         Severity     `json:"severity" db:"severity"`
	ActorID          string       `json:"actor_id,omitempty" db:"actor_id"`
	ActorEmail       string       `json:"actor_email,omitempty" db:"actor_email"`
	ActorName        string       `json:"actor_name,omitempty" db:"actor_name"`
	SourceAddress    string       `json:"source_address,omitempty" db:"source_address"`
	UserAgent        string       `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	IsRead           bool         `json:"is_read" db:"is_read"`
	NotificationSent bool         `json:"notification_sent" db:"notification_sent"`
}

// HasActor reports whether the event was caused by a user rather than the system.
func (e ActivityEvent) HasActor() bool {
	return strings.TrimSpace(e.ActorID) != ""
}

func (e ActivityEvent) Actor() (ActorRef, bool) {
	if !e.HasActor() {
		return ActorRef{}, false
	}
	return ActorRef{ID: e.ActorID, Email: e.ActorEmail, Name: e.ActorName}, true
}

// WithActor copies the actor identity onto the event.
func (e ActivityEvent) WithActor(actor ActorRef) ActivityEvent {
	e.ActorID = actor.ID
	e.ActorEmail = actor.Email
	e.ActorName = actor.Name
	return e
}

// ActivityFilter narrows a query. Zero-valued fields match everything.
type ActivityFilter struct {
	ActivityKind ActivityKind
	SubjectKind  SubjectKind
	Severity     Severity
	ActorID      string
	From         time.Time // inclusive
	To           time.Time // exclusive
	Search       string
}

// Matches applies the filter in memory with the same semantics as the SQL query.
func (f ActivityFilter) Matches(e ActivityEvent) bool {
	if f.ActivityKind != "" && e.ActivityKind != f.ActivityKind {
		return false
	}
	if f.SubjectKind != "" && e.SubjectKind != f.SubjectKind {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		if !strings.Contains(strings.ToLower(e.Description), strings.ToLower(term)) {
			return false
		}
	}
	return true
}

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 200
)

type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type ActivityPage struct {
	Items  []ActivityEvent `json:"items"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}
