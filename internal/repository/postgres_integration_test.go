//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/stanstork/monev-api/internal/models"
	"github.com/stanstork/monev-api/internal/repository"
	"github.com/stanstork/monev-api/internal/testutil/containers"
)

type PostgresSuite struct {
	suite.Suite
	ctx           context.Context
	postgres      *containers.PostgresContainer
	activities    repository.ActivityRepository
	notifications repository.NotificationRepository
	tokens        repository.TokenBlacklistRepository
	users         repository.UserRepository
}

func TestPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())
	s.activities = repository.NewActivityRepository(s.postgres.DB)
	s.notifications = repository.NewNotificationRepository(s.postgres.DB)
	s.tokens = repository.NewTokenBlacklistRepository(s.postgres.DB)
	s.users = repository.NewUserRepository(s.postgres.DB)
}

func (s *PostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "notifications", "activity_logs", "token_blacklist", "users"))
}

func (s *PostgresSuite) create(severity models.Severity, actorID, description string) models.ActivityEvent {
	event, err := s.activities.Create(s.ctx, models.ActivityEvent{
		ActivityKind: models.ActivityUpdate,
		SubjectKind:  models.SubjectProgram,
		SubjectID:    "prog-1",
		Description:  description,
		Severity:     severity,
		ActorID:      actorID,
	})
	s.Require().NoError(err)
	return event
}

func (s *PostgresSuite) backdate(id string, createdAt time.Time) {
	_, err := s.postgres.DB.ExecContext(s.ctx, `UPDATE monev.activity_logs SET created_at = $1 WHERE id = $2`, createdAt, id)
	s.Require().NoError(err)
}

func (s *PostgresSuite) TestCreateAndGetKeepsOptionalFieldsEmpty() {
	saved := s.create(models.SeverityMedium, "", "budget revised")
	s.NotEmpty(saved.ID)
	s.False(saved.CreatedAt.IsZero())

	got, err := s.activities.Get(s.ctx, saved.ID)
	s.Require().NoError(err)
	s.Equal(saved.ID, got.ID)
	s.Empty(got.ActorID)
	s.Empty(got.Details)
	s.False(got.IsRead)
	s.False(got.NotificationSent)

	var actorID sql.NullString
	s.Require().NoError(s.postgres.DB.QueryRowContext(s.ctx,
		`SELECT actor_id FROM monev.activity_logs WHERE id = $1`, saved.ID).Scan(&actorID))
	s.False(actorID.Valid)
}

func (s *PostgresSuite) TestQueryFiltersAndSearch() {
	s.create(models.SeverityLow, "u-1", "Uploaded 50% of the report")
	s.create(models.SeverityHigh, "u-2", "Deleted stage")
	s.create(models.SeverityHigh, "u-1", "Approved output")

	page, err := s.activities.Query(s.ctx, models.ActivityFilter{Severity: models.SeverityHigh}, models.Page{})
	s.Require().NoError(err)
	s.Equal(int64(2), page.Total)
	s.Equal("Approved output", page.Items[0].Description)

	page, err = s.activities.Query(s.ctx, models.ActivityFilter{Search: "50%"}, models.Page{})
	s.Require().NoError(err)
	s.Len(page.Items, 1)

	page, err = s.activities.Query(s.ctx, models.ActivityFilter{ActorID: "u-1"}, models.Page{Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Equal(int64(2), page.Total)
	s.Require().Len(page.Items, 1)
	s.Equal("Uploaded 50% of the report", page.Items[0].Description)
}

func (s *PostgresSuite) TestMarkReadIsIdempotent() {
	event := s.create(models.SeverityLow, "u-1", "viewed")

	rows, err := s.activities.MarkRead(s.ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), rows)

	rows, err = s.activities.MarkRead(s.ctx, event.ID)
	s.Require().NoError(err)
	s.Zero(rows)

	s.create(models.SeverityLow, "u-1", "viewed again")
	rows, err = s.activities.MarkAllReadForActor(s.ctx, "u-1")
	s.Require().NoError(err)
	s.Equal(int64(1), rows)
}

func (s *PostgresSuite) TestPendingOrderAndMarking() {
	now := time.Now().UTC()
	late := s.create(models.SeverityHigh, "", "late")
	early := s.create(models.SeverityLow, "", "early")
	s.backdate(early.ID, now.Add(-time.Hour))
	done := s.create(models.SeverityLow, "", "done")

	rows, err := s.activities.MarkNotified(s.ctx, done.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), rows)

	pending, err := s.activities.ListPendingNotification(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(early.ID, pending[0].ID)
	s.Equal(late.ID, pending[1].ID)

	limited, err := s.activities.ListPendingNotification(s.ctx, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)

	rows, err = s.activities.MarkNotifiedBatch(s.ctx, []string{early.ID, late.ID, done.ID})
	s.Require().NoError(err)
	s.Equal(int64(2), rows)
}

func (s *PostgresSuite) TestDeleteOlderThanBoundary() {
	cutoff := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Microsecond)
	before := s.create(models.SeverityLow, "", "before")
	s.backdate(before.ID, cutoff.Add(-time.Microsecond))
	exact := s.create(models.SeverityLow, "", "exact")
	s.backdate(exact.ID, cutoff)
	s.create(models.SeverityLow, "", "fresh")

	deleted, err := s.activities.DeleteOlderThan(s.ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	_, err = s.activities.Get(s.ctx, exact.ID)
	s.NoError(err)
	_, err = s.activities.Get(s.ctx, before.ID)
	s.ErrorIs(err, sql.ErrNoRows)
}

func (s *PostgresSuite) TestStatistics() {
	s.create(models.SeverityCritical, "", "outage")
	s.create(models.SeverityHigh, "u-1", "permission change")
	old := s.create(models.SeverityLow, "u-1", "old")
	s.backdate(old.ID, time.Now().UTC().AddDate(0, 0, -3))

	bySeverity, err := s.activities.CountBySeverity(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), bySeverity[models.SeverityCritical])
	s.Equal(int64(1), bySeverity[models.SeverityLow])

	unread, err := s.activities.CountUnread(s.ctx, "u-1")
	s.Require().NoError(err)
	s.Equal(int64(2), unread)

	since, err := s.activities.CountSince(s.ctx, time.Now().UTC().Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(2), since)

	days, err := s.activities.DailyHistogram(s.ctx, 7, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().Len(days, 7)
	today := days[len(days)-1]
	s.Equal(int64(2), today.Total)
	s.Equal(int64(1), today.Critical)
	s.Equal(int64(1), today.High)
}

func (s *PostgresSuite) TestNotificationInbox() {
	event := s.create(models.SeverityMedium, "u-1", "stage updated")
	notif, err := s.notifications.Create(s.ctx, repository.CreateNotificationParams{
		UserID:     "u-1",
		ActivityID: event.ID,
		Severity:   models.SeverityMedium,
		Title:      "Update",
		Message:    "stage updated",
	})
	s.Require().NoError(err)
	s.Nil(notif.ReadAt)

	count, err := s.notifications.CountUnread(s.ctx, "u-1")
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	read, err := s.notifications.MarkRead(s.ctx, "u-1", notif.ID)
	s.Require().NoError(err)
	s.Require().NotNil(read.ReadAt)

	again, err := s.notifications.MarkRead(s.ctx, "u-1", notif.ID)
	s.Require().NoError(err)
	s.True(read.ReadAt.Equal(*again.ReadAt))

	_, err = s.notifications.MarkRead(s.ctx, "u-2", notif.ID)
	s.ErrorIs(err, sql.ErrNoRows)

	// Deleting the event keeps the notification and clears the link.
	_, err = s.activities.Delete(s.ctx, event.ID)
	s.Require().NoError(err)
	list, err := s.notifications.ListRecent(s.ctx, "u-1", 10)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Empty(list[0].ActivityID)
}

func (s *PostgresSuite) TestTokenBlacklist() {
	now := time.Now().UTC()
	entry := models.BlacklistedToken{TokenHash: "abc", BlacklistedAt: now, ExpiresAt: now.Add(time.Hour)}

	inserted, err := s.tokens.Insert(s.ctx, entry)
	s.Require().NoError(err)
	s.True(inserted)
	inserted, err = s.tokens.Insert(s.ctx, entry)
	s.Require().NoError(err)
	s.False(inserted)

	var rows int
	s.Require().NoError(s.postgres.DB.QueryRowContext(s.ctx, `SELECT COUNT(*) FROM monev.token_blacklist`).Scan(&rows))
	s.Equal(1, rows)

	exists, err := s.tokens.Exists(s.ctx, "abc", now)
	s.Require().NoError(err)
	s.True(exists)
	exists, err = s.tokens.Exists(s.ctx, "abc", now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.False(exists)

	removed, err := s.tokens.DeleteExpired(s.ctx, now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), removed)
}

func (s *PostgresSuite) TestUserDirectory() {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	s.Require().NoError(err)
	insert := func(email string, roles []string, active bool) {
		_, err := s.postgres.DB.ExecContext(s.ctx, `
			INSERT INTO monev.users (email, first_name, last_name, password_hash, is_active, roles)
			VALUES ($1, 'Test', 'User', $2, $3, $4)`,
			email, string(hash), active, pq.Array(roles))
		s.Require().NoError(err)
	}
	insert("root@example.org", []string{"super_admin"}, true)
	insert("ops@example.org", []string{"admin", "operator"}, true)
	insert("gone@example.org", []string{"admin"}, false)
	insert("view@example.org", []string{"viewer"}, true)

	admins, err := s.users.ListAdminActors(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(admins, 2)
	s.Equal("ops@example.org", admins[0].Email)
	s.Equal("Test User", admins[0].Name)

	operators, err := s.users.ListActorsByRole(s.ctx, models.RoleOperator)
	s.Require().NoError(err)
	s.Len(operators, 1)

	user, err := s.users.AuthenticateUser(s.ctx, "root@example.org", "s3cret")
	s.Require().NoError(err)
	s.Equal([]models.UserRole{models.RoleSuperAdmin}, user.Roles)

	_, err = s.users.AuthenticateUser(s.ctx, "root@example.org", "wrong")
	s.ErrorIs(err, repository.ErrInvalidCredentials)
	_, err = s.users.AuthenticateUser(s.ctx, "nobody@example.org", "s3cret")
	s.ErrorIs(err, repository.ErrInvalidCredentials)

	actor, err := s.users.FindActorByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal("root@example.org", actor.Email)
}
