package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/metrics"
	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

func newTestHub(t *testing.T) (*Hub, *metrics.WebSocketMetrics, string) {
	t.Helper()
	return newLimitedHub(t, nil)
}

func newLimitedHub(t *testing.T, limits *ConnectionLimits) (*Hub, *metrics.WebSocketMetrics, string) {
	t.Helper()
	m := metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	hub := NewHub(NewCheckOrigin("https://proctor.example.com", false), m, limits)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_DeliversAnomalies(t *testing.T) {
	hub, m, url := newTestHub(t)
	conn := dial(t, url, nil)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	snap := domain.Snapshot{ID: 4, AnomalyType: domain.AnomalyMultipleFaces, Timestamp: time.Now().UTC()}
	require.NoError(t, hub.OnAnomalyAccepted(context.Background(), snap))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string          `json:"type"`
		Data domain.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "anomaly", msg.Type)
	assert.Equal(t, int64(4), msg.Data.ID)
	assert.Equal(t, domain.AnomalyMultipleFaces, msg.Data.AnomalyType)

	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveConnections), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesPublished), 0.0001)
}

func TestHub_BroadcastsToEveryClient(t *testing.T) {
	hub, _, url := newTestHub(t)
	conns := []*websocket.Conn{dial(t, url, nil), dial(t, url, nil), dial(t, url, nil)}
	require.Eventually(t, func() bool { return hub.Clients() == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Broadcast("session", map[string]string{"state": "RUNNING"}))

	for _, c := range conns {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"session","data":{"state":"RUNNING"}}`, string(data))
	}
}

func TestHub_ClientDisconnectIsTracked(t *testing.T) {
	hub, m, url := newTestHub(t)
	conn := dial(t, url, nil)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	_ = conn.Close()

	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ActiveConnections), 0.0001)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub, _, url := newTestHub(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})

	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.Clients())
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, url, http.Header{"Origin": {"https://proctor.example.com"}})
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, hub.Clients())
}

func TestHub_PerIPLimit(t *testing.T) {
	limits := NewConnectionLimits(10, 1, 100, 100)
	hub, m, url := newLimitedHub(t, limits)

	conn := dial(t, url, nil)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionsRejected.WithLabelValues(string(LimitReasonPerIP))), 0.0001)

	// The slot is released when the first dashboard leaves.
	_ = conn.Close()
	require.Eventually(t, func() bool { return limits.Current() == 0 }, 2*time.Second, 5*time.Millisecond)
	dial(t, url, nil)
}
