package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stanstork/monev-api/internal/models"
)

// ActivityRepository is the persistence port of the event store. Every mutation is a
// single statement so concurrent sweeps and request handlers cannot lose updates.
type ActivityRepository interface {
	Create(ctx context.Context, event models.ActivityEvent) (models.ActivityEvent, error)
	Get(ctx context.Context, id string) (models.ActivityEvent, error)
	Query(ctx context.Context, filter models.ActivityFilter, page models.Page) (models.ActivityPage, error)
	ListPendingNotification(ctx context.Context, limit int) ([]models.ActivityEvent, error)

	MarkRead(ctx context.Context, id string) (int64, error)
	MarkAllReadForActor(ctx context.Context, actorID string) (int64, error)
	MarkNotified(ctx context.Context, id string) (int64, error)
	MarkNotifiedBatch(ctx context.Context, ids []string) (int64, error)

	Delete(ctx context.Context, id string) (int64, error)
	DeleteBatch(ctx context.Context, ids []string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	CountByKind(ctx context.Context) (map[models.ActivityKind]int64, error)
	CountBySubject(ctx context.Context) (map[models.SubjectKind]int64, error)
	CountBySeverity(ctx context.Context) (map[models.Severity]int64, error)
	CountUnread(ctx context.Context, actorID string) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	DailyHistogram(ctx context.Context, days int, now time.Time) ([]models.ActivityStatDay, error)
}

type activityRepository struct {
	db *sql.DB
}

func NewActivityRepository(db *sql.DB) ActivityRepository {
	return &activityRepository{db: db}
}

const activityColumns = `id, activity_kind, subject_kind, subject_id, subject_name, description, details,
	severity, actor_id, actor_email, actor_name, source_address, user_agent,
	created_at, is_read, notification_sent`

func (r *activityRepository) Create(ctx context.Context, event models.ActivityEvent) (models.ActivityEvent, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.ActivityEvent{}, fmt.Errorf("generate activity id: %w", err)
	}

	const query = `
		INSERT INTO monev.activity_logs (
			id, activity_kind, subject_kind, subject_id, subject_name, description, details,
			severity, actor_id, actor_email, actor_name, source_address, user_agent, notification_sent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + activityColumns

	row := r.db.QueryRowContext(ctx, query,
		id,
		event.ActivityKind,
		event.SubjectKind,
		nullString(event.SubjectID),
		nullString(event.SubjectName),
		event.Description,
		nullString(event.Details),
		event.Severity,
		nullString(event.ActorID),
		nullString(event.ActorEmail),
		nullString(event.ActorName),
		nullString(event.SourceAddress),
		nullString(event.UserAgent),
		event.NotificationSent,
	)
	return scanActivity(row)
}

func (r *activityRepository) Get(ctx context.Context, id string) (models.ActivityEvent, error) {
	if !isUUID(id) {
		return models.ActivityEvent{}, sql.ErrNoRows
	}
	query := `SELECT ` + activityColumns + ` FROM monev.activity_logs WHERE id = $1`
	return scanActivity(r.db.QueryRowContext(ctx, query, strings.TrimSpace(id)))
}

func (r *activityRepository) Query(ctx context.Context, filter models.ActivityFilter, page models.Page) (models.ActivityPage, error) {
	page = page.Normalize()
	where, args := activityWhere(filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM monev.activity_logs` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return models.ActivityPage{}, fmt.Errorf("count activities: %w", err)
	}

	listQuery := fmt.Sprintf(`SELECT %s FROM monev.activity_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		activityColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, listQuery, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return models.ActivityPage{}, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	items, err := scanActivities(rows)
	if err != nil {
		return models.ActivityPage{}, err
	}
	return models.ActivityPage{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

func activityWhere(filter models.ActivityFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.ActivityKind != "" {
		add("activity_kind = $%d", filter.ActivityKind)
	}
	if filter.SubjectKind != "" {
		add("subject_kind = $%d", filter.SubjectKind)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		add("description ILIKE $%d", "%"+escapeLike(term)+"%")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func (r *activityRepository) ListPendingNotification(ctx context.Context, limit int) ([]models.ActivityEvent, error) {
	// LIMIT NULL is LIMIT ALL in postgres.
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	query := `
		SELECT ` + activityColumns + `
		FROM monev.activity_logs
		WHERE notification_sent = FALSE
		ORDER BY created_at ASC, id ASC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	defer rows.Close()
	return scanActivities(rows)
}

func (r *activityRepository) MarkRead(ctx context.Context, id string) (int64, error) {
	if !isUUID(id) {
		return 0, nil
	}
	return r.exec(ctx, `UPDATE monev.activity_logs SET is_read = TRUE WHERE id = $1 AND is_read = FALSE`, strings.TrimSpace(id))
}

func (r *activityRepository) MarkAllReadForActor(ctx context.Context, actorID string) (int64, error) {
	return r.exec(ctx, `UPDATE monev.activity_logs SET is_read = TRUE WHERE actor_id = $1 AND is_read = FALSE`, strings.TrimSpace(actorID))
}

func (r *activityRepository) MarkNotified(ctx context.Context, id string) (int64, error) {
	if !isUUID(id) {
		return 0, nil
	}
	return r.exec(ctx, `UPDATE monev.activity_logs SET notification_sent = TRUE WHERE id = $1 AND notification_sent = FALSE`, strings.TrimSpace(id))
}

func (r *activityRepository) MarkNotifiedBatch(ctx context.Context, ids []string) (int64, error) {
	ids = uuidIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	return r.exec(ctx, `UPDATE monev.activity_logs SET notification_sent = TRUE WHERE id = ANY($1::uuid[]) AND notification_sent = FALSE`, pq.Array(ids))
}

func (r *activityRepository) Delete(ctx context.Context, id string) (int64, error) {
	if !isUUID(id) {
		return 0, nil
	}
	return r.exec(ctx, `DELETE FROM monev.activity_logs WHERE id = $1`, strings.TrimSpace(id))
}

func (r *activityRepository) DeleteBatch(ctx context.Context, ids []string) (int64, error) {
	ids = uuidIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	return r.exec(ctx, `DELETE FROM monev.activity_logs WHERE id = ANY($1::uuid[])`, pq.Array(ids))
}

func (r *activityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM monev.activity_logs WHERE created_at < $1`, cutoff)
}

func (r *activityRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *activityRepository) CountByKind(ctx context.Context) (map[models.ActivityKind]int64, error) {
	raw, err := r.countGrouped(ctx, "activity_kind")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.ActivityKind]int64, len(raw))
	for k, v := range raw {
		counts[models.ActivityKind(k)] = v
	}
	return counts, nil
}

func (r *activityRepository) CountBySubject(ctx context.Context) (map[models.SubjectKind]int64, error) {
	raw, err := r.countGrouped(ctx, "subject_kind")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.SubjectKind]int64, len(raw))
	for k, v := range raw {
		counts[models.SubjectKind(k)] = v
	}
	return counts, nil
}

func (r *activityRepository) CountBySeverity(ctx context.Context) (map[models.Severity]int64, error) {
	raw, err := r.countGrouped(ctx, "severity")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.Severity]int64, len(raw))
	for k, v := range raw {
		counts[models.Severity(k)] = v
	}
	return counts, nil
}

// countGrouped only receives column names from this file, never user input.
func (r *activityRepository) countGrouped(ctx context.Context, column string) (map[string]int64, error) {
	query := fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM monev.activity_logs GROUP BY %[1]s`, column)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			key   string
			count int64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func (r *activityRepository) CountUnread(ctx context.Context, actorID string) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM monev.activity_logs
		WHERE is_read = FALSE AND ($1 = '' OR actor_id = $1)`
	var count int64
	err := r.db.QueryRowContext(ctx, query, strings.TrimSpace(actorID)).Scan(&count)
	return count, err
}

func (r *activityRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM monev.activity_logs WHERE created_at >= $1`, since).Scan(&count)
	return count, err
}

func (r *activityRepository) DailyHistogram(ctx context.Context, days int, now time.Time) ([]models.ActivityStatDay, error) {
	if days <= 0 {
		days = 7
	}
	const query = `
		WITH days AS (
			SELECT generate_series(
				($1::date - ($2 - 1) * INTERVAL '1 day'),
				$1::date,
				'1 day'::INTERVAL
			)::date AS day
		)
		SELECT
			days.day,
			COUNT(a.id)                                         AS total,
			COALESCE(SUM((a.severity = 'CRITICAL')::int), 0)   AS critical,
			COALESCE(SUM((a.severity = 'HIGH')::int), 0)       AS high
		FROM days
		LEFT JOIN monev.activity_logs a ON a.created_at::date = days.day
		GROUP BY days.day
		ORDER BY days.day ASC`

	rows, err := r.db.QueryContext(ctx, query, now.UTC(), days)
	if err != nil {
		return nil, fmt.Errorf("daily histogram: %w", err)
	}
	defer rows.Close()

	var histogram []models.ActivityStatDay
	for rows.Next() {
		var day models.ActivityStatDay
		if err := rows.Scan(&day.Day, &day.Total, &day.Critical, &day.High); err != nil {
			return nil, err
		}
		histogram = append(histogram, day)
	}
	return histogram, rows.Err()
}

func scanActivities(rows *sql.Rows) ([]models.ActivityEvent, error) {
	var events []models.ActivityEvent
	for rows.Next() {
		event, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return events, nil
}

func scanActivity(scanner interface {
	Scan(dest ...interface{}) error
}) (models.ActivityEvent, error) {
	var (
		event                           models.ActivityEvent
		subjectID, subjectName, details sql.NullString
		actorID, actorEmail, actorName  sql.NullString
		sourceAddress, userAgent        sql.NullString
	)

	if err := scanner.Scan(
		&event.ID,
		&event.ActivityKind,
		&event.SubjectKind,
		&subjectID,
		&subjectName,
		&event.Description,
		&details,
		&event.Severity,
		&actorID,
		&actorEmail,
		&actorName,
		&sourceAddress,
		&userAgent,
		&event.CreatedAt,
		&event.IsRead,
		&event.NotificationSent,
	); err != nil {
		return models.ActivityEvent{}, err
	}

	event.SubjectID = subjectID.String
	event.SubjectName = subjectName.String
	event.Details = details.String
	event.ActorID = actorID.String
	event.ActorEmail = actorEmail.String
	event.ActorName = actorName.String
	event.SourceAddress = sourceAddress.String
	event.UserAgent = userAgent.String
	return event, nil
}

func nullString(s string) interface{} {
	if trimmed := strings.TrimSpace(s); trimmed != "" {
		return trimmed
	}
	return nil
}

func cleanIDs(ids []string) []string {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

// isUUID guards uuid columns: a malformed id matches no row instead of failing the query.
func isUUID(id string) bool {
	_, err := uuid.Parse(strings.TrimSpace(id))
	return err == nil
}

func uuidIDs(ids []string) []string {
	valid := make([]string, 0, len(ids))
	for _, id := range cleanIDs(ids) {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	return valid
}
