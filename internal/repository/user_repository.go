package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"github.com/lib/pq"
	"github.com/stanstork/monev-api/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRepository is the read side of the actor directory. User management itself
// belongs to the surrounding administration backend.
type UserRepository interface {
	AuthenticateUser(ctx context.Context, email, password string) (models.User, error)
	GetUserByID(ctx context.Context, userID string) (models.User, error)

	FindActorByID(ctx context.Context, userID string) (models.ActorRef, error)
	ListActorsByRole(ctx context.Context, role models.UserRole) ([]models.ActorRef, error)
	ListAdminActors(ctx context.Context) ([]models.ActorRef, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, first_name, last_name, password_hash, is_active, roles`

func (u *userRepository) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM monev.users WHERE email = $1 AND deleted_at IS NULL`
	user, err := scanUser(u.db.QueryRowContext(ctx, query, strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return checkCredentials(user, password)
}

func checkCredentials(user models.User, password string) (models.User, error) {
	if !models.IsValidRoleList(user.Roles) {
		return models.User{}, errors.New("user has invalid roles")
	}
	if !user.IsActive {
		return models.User{}, errors.New("user is inactive")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (u *userRepository) GetUserByID(ctx context.Context, userID string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM monev.users WHERE id = $1 AND deleted_at IS NULL`
	return scanUser(u.db.QueryRowContext(ctx, query, strings.TrimSpace(userID)))
}

func (u *userRepository) FindActorByID(ctx context.Context, userID string) (models.ActorRef, error) {
	user, err := u.GetUserByID(ctx, userID)
	if err != nil {
		return models.ActorRef{}, err
	}
	return user.ActorRef(), nil
}

func (u *userRepository) ListActorsByRole(ctx context.Context, role models.UserRole) ([]models.ActorRef, error) {
	return u.listActors(ctx, []models.UserRole{role})
}

func (u *userRepository) ListAdminActors(ctx context.Context) ([]models.ActorRef, error) {
	return u.listActors(ctx, models.AdminRoles())
}

func (u *userRepository) listActors(ctx context.Context, roles []models.UserRole) ([]models.ActorRef, error) {
	const query = `
		SELECT id, email, first_name, last_name
		FROM monev.users
		WHERE roles && $1 AND is_active = TRUE AND deleted_at IS NULL
		ORDER BY email`

	rows, err := u.db.QueryContext(ctx, query, pq.Array(toStringSlice(roles)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []models.ActorRef
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName); err != nil {
			return nil, err
		}
		actors = append(actors, user.ActorRef())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return actors, nil
}

func scanUser(scanner interface {
	Scan(dest ...interface{}) error
}) (models.User, error) {
	var (
		user  models.User
		roles pq.StringArray
	)
	if err := scanner.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.IsActive,
		&roles,
	); err != nil {
		return models.User{}, err
	}
	user.Roles = models.EnsureDefaultRole(toUserRoleSlice(roles))
	return user, nil
}

func toStringSlice(roles []models.UserRole) []string {
	result := make([]string, 0, len(roles))
	for _, role := range roles {
		result = append(result, string(role))
	}
	return result
}

func toUserRoleSlice(roles []string) []models.UserRole {
	result := make([]models.UserRole, 0, len(roles))
	for _, role := range roles {
		result = append(result, models.UserRole(role))
	}
	return models.NormalizeRoles(result)
}

// InMemoryUserRepository is a fixed directory for tests and the memory driver.
type InMemoryUserRepository struct {
	mu    sync.RWMutex
	users []models.User
}

func NewInMemoryUserRepository(users ...models.User) *InMemoryUserRepository {
	r := &InMemoryUserRepository{}
	for _, user := range users {
		r.Add(user)
	}
	return r
}

func (r *InMemoryUserRepository) Add(user models.User) {
	user.Roles = models.EnsureDefaultRole(models.NormalizeRoles(user.Roles))
	r.mu.Lock()
	r.users = append(r.users, user)
	r.mu.Unlock()
}

func (r *InMemoryUserRepository) AuthenticateUser(_ context.Context, email, password string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			return checkCredentials(user, password)
		}
	}
	return models.User{}, ErrInvalidCredentials
}

func (r *InMemoryUserRepository) GetUserByID(_ context.Context, userID string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.ID == userID {
			return user, nil
		}
	}
	return models.User{}, sql.ErrNoRows
}

func (r *InMemoryUserRepository) FindActorByID(ctx context.Context, userID string) (models.ActorRef, error) {
	user, err := r.GetUserByID(ctx, userID)
	if err != nil {
		return models.ActorRef{}, err
	}
	return user.ActorRef(), nil
}

func (r *InMemoryUserRepository) ListActorsByRole(_ context.Context, role models.UserRole) ([]models.ActorRef, error) {
	return r.listActors(role), nil
}

func (r *InMemoryUserRepository) ListAdminActors(_ context.Context) ([]models.ActorRef, error) {
	return r.listActors(models.AdminRoles()...), nil
}

func (r *InMemoryUserRepository) listActors(roles ...models.UserRole) []models.ActorRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var actors []models.ActorRef
	for _, user := range r.users {
		if !user.IsActive || !hasAnyRole(user.Roles, roles) {
			continue
		}
		actors = append(actors, user.ActorRef())
	}
	return actors
}

func hasAnyRole(have, want []models.UserRole) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
