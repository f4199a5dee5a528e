package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/events"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/worldloop"
)

type stubStatus struct{ status worldloop.Status }

func (s stubStatus) CurrentStatus() worldloop.Status { return s.status }

func newTestServer(t *testing.T) (*Server, *events.Bus) {
	t.Helper()
	rt := metrics.NewRuntime()
	rt.RecordTransaction(metrics.PhaseTimings{Total: 10 * time.Millisecond})
	reg := prometheus.NewRegistry()
	metrics.NewCollectors(reg)
	bus := events.NewBus()
	return NewServer(rt, reg, bus, stubStatus{worldloop.Status{TickNumber: 7, Backpressure: true, Reason: "high_p99_tx:300.00"}}, "0"), bus
}

func TestHealthAndStatusEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var payload struct {
		Loop *worldloop.Status `json:"loop"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.NotNil(t, payload.Loop)
	assert.Equal(t, int64(7), payload.Loop.TickNumber)
	assert.True(t, payload.Loop.Backpressure)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsWebsocketStream(t *testing.T) {
	s, bus := newTestServer(t)
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Emit(events.TypeNewsBroadcast, "towncrier", "hollow", map[string]any{"message": "war drums"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Envelope
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeNewsBroadcast, ev.Type)
	assert.Equal(t, "hollow", ev.Subject)
}
