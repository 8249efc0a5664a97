package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/monev-api/internal/repository"
)

func dialHub(t *testing.T, hub *Hub, actorID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, actorID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ConnectionCount(actorID) == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestHubTryPush(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	conn := dialHub(t, hub, "u-1")

	assert.True(t, hub.TryPush("u-1", []byte(`{"type":"ping"}`)))
	assert.False(t, hub.TryPush("u-2", []byte(`{}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(msg))
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub(zerolog.Nop(), []string{"*"})
	conn := dialHub(t, hub, "u-1")

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ConnectionCount("u-1") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, hub.TryPush("u-1", []byte(`{}`)))
}

func TestDispatcherDeliversThroughHub(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	conn := dialHub(t, hub, alice.ID)
	d := NewDispatcher(repository.NewInMemoryNotificationRepository(), zerolog.Nop(), WithLiveSocket(hub))

	require.NoError(t, d.SendInApp(context.Background(), alice, highEvent()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"notification"`)
	assert.Contains(t, string(msg), `"activity_id":"evt-42"`)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://monev.example.org"})

	allowed := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	allowed.Header.Set("Origin", "https://monev.example.org")
	assert.True(t, check(allowed))

	denied := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(denied))

	assert.True(t, check(httptest.NewRequest(http.MethodGet, "/api/ws", nil)))
}
