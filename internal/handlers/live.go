package handlers

import (
	"net/http"

	"github.com/stanstork/monev-api/internal/notification"
)

type LiveHandler struct {
	hub *notification.Hub
}

func NewLiveHandler(hub *notification.Hub) *LiveHandler {
	return &LiveHandler{hub: hub}
}

// Connect upgrades to a websocket that receives the caller's in-app notifications.
func (h *LiveHandler) Connect(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromRequest(w, r)
	if !ok {
		return
	}
	h.hub.Serve(w, r, id.ActorID)
}
