package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zentra/nbot/pkg/auth"
)

const testSecret = "test-secret"

type received struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func startHub(t *testing.T, allowedOrigins []string) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	srv := httptest.NewServer(NewHandler(hub, testSecret, allowedOrigins).Routes())
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	token, err := auth.GenerateAdminToken("ops", testSecret, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token.AccessToken
	return websocket.DefaultDialer.Dial(url, header)
}

func readEvent(t *testing.T, conn *websocket.Conn) received {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev received
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubDeliversPublishedEvents(t *testing.T) {
	hub, srv := startHub(t, nil)

	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()

	ready := readEvent(t, conn)
	assert.Equal(t, EventTypeReady, ready.Type)
	assert.Equal(t, "ops", ready.Data["subject"])
	assert.Equal(t, 1, hub.ClientCount())

	hub.Publish("CACHE_PURGED", map[string]any{"removed": 3})

	ev := readEvent(t, conn)
	assert.Equal(t, "CACHE_PURGED", ev.Type)
	assert.EqualValues(t, 3, ev.Data["removed"])
}

func TestHubFiltersBySubscription(t *testing.T) {
	hub, srv := startHub(t, nil)

	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "SUBSCRIBE",
		"data": map[string]any{"types": []string{"SYNC_COMPLETED"}},
	}))
	// Control messages are handled in order, so the ack means the
	// subscription is in place.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "HEARTBEAT"}))
	assert.Equal(t, EventTypeHeartbeatAck, readEvent(t, conn).Type)

	hub.Publish("EMOTE_CACHED", map[string]any{"name": "pog"})
	hub.Publish("SYNC_COMPLETED", map[string]any{"job": "cache"})

	ev := readEvent(t, conn)
	assert.Equal(t, "SYNC_COMPLETED", ev.Type)
	assert.Equal(t, "cache", ev.Data["job"])
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	_, srv := startHub(t, nil)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/?token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerChecksOrigin(t *testing.T) {
	_, srv := startHub(t, []string{"https://dash.example"})

	_, resp, err := dial(t, srv, http.Header{"Origin": []string{"https://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial(t, srv, http.Header{"Origin": []string{"https://dash.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestPublishWithoutRunningHubDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < 300; i++ {
		hub.Publish("EMOTE_CACHED", i)
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
