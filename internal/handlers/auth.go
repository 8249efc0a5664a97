package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stanstork/monev-api/internal/activity"
	"github.com/stanstork/monev-api/internal/authz"
	"github.com/stanstork/monev-api/internal/middleware"
	"github.com/stanstork/monev-api/internal/models"
	"github.com/stanstork/monev-api/internal/repository"
)

// Revoker is the token blacklist as seen by authentication.
type Revoker interface {
	Blacklist(ctx context.Context, token string) error
	IsBlacklisted(ctx context.Context, token string) bool
}

type AuthHandler struct {
	userRepository repository.UserRepository
	events         activity.Service
	revoker        Revoker
	jwtSecret      string
	tokenTTL       time.Duration
	now            func() time.Time
	logger         zerolog.Logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenClaims struct {
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

func NewAuthHandler(
	users repository.UserRepository,
	events activity.Service,
	revoker Revoker,
	jwtSecret string,
	tokenTTL time.Duration,
	logger zerolog.Logger,
) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthHandler{
		userRepository: users,
		events:         events,
		revoker:        revoker,
		jwtSecret:      jwtSecret,
		tokenTTL:       tokenTTL,
		now:            time.Now,
		logger:         logger.With().Str("handler", "auth").Logger(),
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	origin := middleware.OriginFromRequest(r)

	user, err := h.userRepository.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		reason := "invalid credentials"
		if !errors.Is(err, repository.ErrInvalidCredentials) {
			reason = err.Error()
		}
		h.events.LogLoginFailed(r.Context(), req.Email, origin, reason)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	tokenString, err := h.issueToken(user)
	if err != nil {
		h.logger.Error().Err(err).Str("actor_id", user.ID).Msg("failed to sign token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.events.LogLogin(r.Context(), user.ActorRef(), origin)
	writeJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}

func (h *AuthHandler) issueToken(user models.User) (string, error) {
	roles := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		roles = append(roles, string(role))
	}
	now := h.now()
	claims := tokenClaims{
		Email: user.Email,
		Name:  user.FullName(),
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.jwtSecret))
}

// Logout revokes the presented token for the rest of its lifetime.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromRequest(w, r)
	if !ok {
		return
	}
	token, _ := bearerToken(r)

	if err := h.revoker.Blacklist(r.Context(), token); err != nil {
		h.logger.Error().Err(err).Str("actor_id", id.ActorID).Msg("failed to revoke token")
		http.Error(w, "Failed to log out", http.StatusInternalServerError)
		return
	}

	h.events.LogLogout(r.Context(), id.Actor(), middleware.OriginFromRequest(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		claims := &tokenClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(h.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		if claims.ExpiresAt == nil {
			http.Error(w, "Token expired", http.StatusUnauthorized)
			return
		}
		if h.revoker.IsBlacklisted(r.Context(), tokenString) {
			http.Error(w, "Token revoked", http.StatusUnauthorized)
			return
		}

		roles, ok := rolesFromClaims(claims.Roles)
		if !ok {
			http.Error(w, "Missing role claim", http.StatusUnauthorized)
			return
		}
		if claims.Subject == "" {
			http.Error(w, "Missing token claim", http.StatusUnauthorized)
			return
		}

		ctx := authz.WithIdentity(r.Context(), authz.Identity{
			ActorID: claims.Subject,
			Email:   claims.Email,
			Name:    claims.Name,
			Roles:   roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket handshakes, so upgrades may pass the token as ?token= instead.
func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		if websocket.IsWebSocketUpgrade(r) {
			if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
				return token, nil
			}
		}
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func rolesFromClaims(raw []string) ([]models.UserRole, bool) {
	roles := make([]models.UserRole, 0, len(raw))
	for _, r := range raw {
		roles = append(roles, models.UserRole(r))
	}
	normalized := models.EnsureDefaultRole(models.NormalizeRoles(roles))
	if !models.IsValidRoleList(normalized) {
		return nil, false
	}
	return normalized, true
}
