package websocket

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub([]string{"https://*.example.com"})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeTenant(w, r, r.URL.Query().Get("tenant"))
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, tenant string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?tenant=" + tenant
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubDeliversOnlyToSubscribedTenant(t *testing.T) {
	hub, srv, _ := startHub(t)

	acme := dial(t, srv, "acme")
	globex := dial(t, srv, "globex")
	assert.Equal(t, EventWelcome, readMessage(t, acme).Type)
	assert.Equal(t, EventWelcome, readMessage(t, globex).Type)

	require.Eventually(t, func() bool { return hub.ClientCount("") == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount("acme"))

	hub.Publish("acme", EventGraphUpdated, map[string]interface{}{"relationships_created": 3})

	msg := readMessage(t, acme)
	assert.Equal(t, EventGraphUpdated, msg.Type)
	assert.Equal(t, "acme", msg.TenantID)
	assert.Equal(t, float64(3), msg.Data.(map[string]interface{})["relationships_created"])

	require.NoError(t, globex.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := globex.ReadMessage()
	assert.Error(t, err, "globex must not see acme events")
}

func TestHubAnswersPing(t *testing.T) {
	_, srv, _ := startHub(t)
	conn := dial(t, srv, "acme")
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, EventPong, readMessage(t, conn).Type)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, srv, _ := startHub(t)
	conn := dial(t, srv, "acme")
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount("acme") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount("acme") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, srv, cancel := startHub(t)
	conn := dial(t, srv, "acme")
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount("") == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount(""))
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, srv, _ := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?tenant=acme"
	header := http.Header{"Origin": []string{"https://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOriginAllowed(t *testing.T) {
	patterns := []string{"http://localhost:5173", "https://*.example.com"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"HTTP://LOCALHOST:5173", true},
		{"https://app.example.com", true},
		{"https://example.org", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, originAllowed(patterns, tt.origin))
		})
	}
	assert.True(t, originAllowed([]string{"*"}, "https://anything.test"))
}

func TestSanitizeData(t *testing.T) {
	in := map[string]interface{}{
		"length": math.Inf(1),
		"scores": map[string]float64{"a": 0.5, "b": math.NaN()},
		"path":   []interface{}{"a", "b"},
		"count":  2,
	}
	out := sanitizeData(in).(map[string]interface{})
	assert.Nil(t, out["length"])
	assert.Nil(t, out["scores"].(map[string]interface{})["b"])
	assert.Equal(t, 0.5, out["scores"].(map[string]interface{})["a"])
	assert.Equal(t, 2, out["count"])

	_, err := json.Marshal(out)
	assert.NoError(t, err)
}
