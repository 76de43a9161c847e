package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camstack/camhal/health"
	"github.com/camstack/camhal/metric"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, *health.Monitor) {
	t.Helper()

	registry := metric.NewMetricsRegistry()
	mon := health.NewMonitor()
	s := NewServer(ServerDeps{
		CameraID: 0,
		Registry: registry,
		Health:   mon,
	})

	ts := httptest.NewServer(s.buildMux())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = s.Stop() })
	return s, ts, mon
}

func TestServer_MetricsEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	// Core frame metrics register with the shared registry.
	assert.Contains(t, string(body), "camhal_requests_in_flight")
}

func TestServer_HealthEndpoint(t *testing.T) {
	_, ts, mon := newTestServer(t)

	mon.UpdateHealthy("pipeline", "started")
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var status health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, status.IsHealthy())

	mon.UpdateUnhealthy("pipeline", "device error")
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, status.IsUnhealthy())
	require.Len(t, status.SubStatuses, 1)
	assert.Equal(t, "pipeline", status.SubStatuses[0].Component)
}

func TestServer_EventStream(t *testing.T) {
	s, ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	// Registration happens inside the upgrade handler, so the client
	// is visible as soon as Dial returns.
	s.RequestSubmitted(7)
	s.RequestCompleted(7)
	s.DeviceError()

	wantKinds := []string{"submitted", "completed", "device_error"}
	for _, want := range wantKinds {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, want, ev.Kind)
		if want != "device_error" {
			assert.EqualValues(t, 7, ev.FrameNumber)
		}
	}
}

func TestServer_BroadcastWithoutClients(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Must not panic or block with nobody connected.
	s.RequestSubmitted(1)
	s.DeviceError()
}

func TestServer_InfoPage(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/metrics")
	assert.Contains(t, string(body), "/events")
}
