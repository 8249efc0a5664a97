package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/monev-api/internal/authz"
	"github.com/stanstork/monev-api/internal/handlers"
	"github.com/stanstork/monev-api/internal/middleware"
)

type Handlers struct {
	Auth         *handlers.AuthHandler
	Activity     *handlers.ActivityHandler
	Notification *handlers.NotificationHandler
	Live         *handlers.LiveHandler
	Readiness    http.Handler
	Metrics      http.Handler
}

// NewRouter sets up the API routes
func NewRouter(h Handlers) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.OriginMiddleware)

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	if h.Readiness != nil {
		router.Handle("/ready", h.Readiness).Methods(http.MethodGet)
	}
	if h.Metrics != nil {
		router.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}

	// Public auth endpoints
	router.HandleFunc("/api/login", h.Auth.Login).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.Auth.JWTMiddleware)

	api.HandleFunc("/logout", h.Auth.Logout).Methods(http.MethodPost)
	api.HandleFunc("/ws", h.Live.Connect).Methods(http.MethodGet)

	api.HandleFunc("/notifications", h.Notification.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", h.Notification.MarkRead).Methods(http.MethodPost)

	api.HandleFunc("/activities", h.Activity.List).Methods(http.MethodGet)
	api.HandleFunc("/activities/stats", h.Activity.Stats).Methods(http.MethodGet)
	api.HandleFunc("/activities/read-all", h.Activity.MarkAllRead).Methods(http.MethodPost)
	api.Handle("/activities/delete", authz.AdminOnly(h.Activity.DeleteBatch)).Methods(http.MethodPost)
	api.Handle("/activities/prune", authz.AdminOnly(h.Activity.Prune)).Methods(http.MethodPost)
	api.Handle("/activities/sweep", authz.AdminOnly(h.Activity.TriggerSweep)).Methods(http.MethodPost)
	api.HandleFunc("/activities/{activityID}", h.Activity.Get).Methods(http.MethodGet)
	api.HandleFunc("/activities/{activityID}/read", h.Activity.MarkRead).Methods(http.MethodPost)
	api.Handle("/activities/{activityID}", authz.AdminOnly(h.Activity.Delete)).Methods(http.MethodDelete)

	return router
}
