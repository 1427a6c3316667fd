package server

import (
	"context"
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

	"github.com/Tyrowin/geoshare/internal/client"
	"github.com/Tyrowin/geoshare/internal/metrics"
	"github.com/Tyrowin/geoshare/internal/protocol"
)

const (
	eventTimeout   = 2 * time.Second
	silenceTimeout = 200 * time.Millisecond
)

type testServer struct {
	hub    *Hub
	http   *httptest.Server
	wsURL  string
	origin string
}

// startTestServer serves the full route table on a loopback listener.
// configure may adjust the config before the routes are built.
func startTestServer(t *testing.T, configure func(*Config)) *testServer {
	t.Helper()

	prom, err := metrics.New("")
	require.NoError(t, err)
	app, err := metrics.NewAppMetrics(prom.Meter)
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(nil)
	origin := "http://" + ts.Listener.Addr().String()

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{origin}
	if configure != nil {
		configure(cfg)
	}
	cfg.Sanitize()

	hub := NewHub(cfg, app)
	ts.Config.Handler = SetupRoutes(hub, cfg, app, prom)
	ts.Start()

	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		ts.Close()
	})

	return &testServer{
		hub:    hub,
		http:   ts,
		wsURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		origin: origin,
	}
}

func (s *testServer) dial(t *testing.T) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	c, err := client.Dial(ctx, s.wsURL, s.origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (s *testServer) waitForSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.hub.Registry().Len() == n
	}, eventTimeout, 10*time.Millisecond, "expected %d live sessions", n)
}

func nextEvent(t *testing.T, c *client.Client) protocol.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "connection closed while waiting for an event")
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for an event")
		return protocol.Event{}
	}
}

func expectNoEvent(t *testing.T, c *client.Client) {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if ok {
			t.Fatalf("unexpected event %s %s", ev.Name, ev.Data)
		}
	case <-time.After(silenceTimeout):
	}
}

func nextLocation(t *testing.T, c *client.Client) protocol.ReceiveLocation {
	t.Helper()
	ev := nextEvent(t, c)
	require.Equal(t, protocol.EventReceiveLocation, ev.Name)
	rl, err := protocol.ParseReceiveLocation(ev.Data)
	require.NoError(t, err)
	return rl
}

func TestWebSocket_Scenario(t *testing.T) {
	srv := startTestServer(t, nil)

	a := srv.dial(t)
	srv.waitForSessions(t, 1)
	expectNoEvent(t, a)

	require.NoError(t, a.SendLocation(1.0, 2.0))
	echo := nextLocation(t, a)
	assert.Equal(t, 1.0, echo.Latitude)
	assert.Equal(t, 2.0, echo.Longitude)
	idA := echo.ID
	require.NotEmpty(t, idA)

	b := srv.dial(t)
	srv.waitForSessions(t, 2)
	require.NoError(t, b.SendLocation(3.0, 4.0))

	atA := nextLocation(t, a)
	atB := nextLocation(t, b)
	assert.Equal(t, atA, atB)
	assert.NotEqual(t, idA, atB.ID)
	assert.Equal(t, 3.0, atB.Latitude)
	assert.Equal(t, 4.0, atB.Longitude)

	require.NoError(t, a.Close())

	ev := nextEvent(t, b)
	require.Equal(t, protocol.EventUserDisconnected, ev.Name)
	gone, err := protocol.ParseUserDisconnected(ev.Data)
	require.NoError(t, err)
	assert.Equal(t, idA, gone)

	srv.waitForSessions(t, 1)
	_, stillThere := srv.hub.Registry().Get(idA)
	assert.False(t, stillThere)
}

func TestWebSocket_FanOutToManyClients(t *testing.T) {
	srv := startTestServer(t, nil)

	const n = 6
	clients := make([]*client.Client, n)
	for i := range clients {
		clients[i] = srv.dial(t)
	}
	srv.waitForSessions(t, n)

	require.NoError(t, clients[2].SendLocation(-33.86, 151.21))

	var origin string
	for i, c := range clients {
		rl := nextLocation(t, c)
		assert.Equal(t, -33.86, rl.Latitude, "client %d", i)
		assert.Equal(t, 151.21, rl.Longitude, "client %d", i)
		if origin == "" {
			origin = rl.ID
		}
		assert.Equal(t, origin, rl.ID, "client %d", i)
	}
	for _, c := range clients {
		expectNoEvent(t, c)
	}
}

func TestWebSocket_InvalidFramesKeepSessionOpen(t *testing.T) {
	srv := startTestServer(t, nil)

	a := srv.dial(t)
	b := srv.dial(t)
	srv.waitForSessions(t, 2)

	require.NoError(t, a.WriteRaw([]byte(`{"event":"send-location","data":{"latitude":"north"}}`)))
	require.NoError(t, a.WriteRaw([]byte(`garbage`)))
	expectNoEvent(t, a)
	expectNoEvent(t, b)

	require.NoError(t, a.SendLocation(5, 6))
	assert.Equal(t, 5.0, nextLocation(t, a).Latitude)
	assert.Equal(t, 5.0, nextLocation(t, b).Latitude)
	assert.Equal(t, 2, srv.hub.Registry().Len())
}

func TestWebSocket_OversizedFrameClosesConnection(t *testing.T) {
	srv := startTestServer(t, func(cfg *Config) {
		cfg.MaxMessageSize = 128
	})

	a := srv.dial(t)
	b := srv.dial(t)
	srv.waitForSessions(t, 2)

	big := `{"event":"send-location","data":{"latitude":1,"longitude":2},"pad":"` + strings.Repeat("x", 512) + `"}`
	require.NoError(t, a.WriteRaw([]byte(big)))

	select {
	case <-a.Done():
	case <-time.After(eventTimeout):
		t.Fatal("oversized frame did not close the connection")
	}

	ev := nextEvent(t, b)
	assert.Equal(t, protocol.EventUserDisconnected, ev.Name)
	srv.waitForSessions(t, 1)
}

func TestWebSocket_RateLimitDiscardsExcessFrames(t *testing.T) {
	srv := startTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})

	a := srv.dial(t)
	srv.waitForSessions(t, 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.SendLocation(float64(i), 0))
	}

	assert.Equal(t, 0.0, nextLocation(t, a).Latitude)
	assert.Equal(t, 1.0, nextLocation(t, a).Latitude)
	expectNoEvent(t, a)
	assert.Equal(t, 1, srv.hub.Registry().Len(), "rate limiting does not drop the session")
}

func TestWebSocket_DisallowedOriginRejected(t *testing.T) {
	srv := startTestServer(t, nil)

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(srv.wsURL, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, srv.hub.Registry().Len())
}

func TestWebSocket_RejectsNonGet(t *testing.T) {
	srv := startTestServer(t, nil)

	resp, err := http.Post(srv.http.URL+"/ws", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocket_ShutdownDisconnectsClients(t *testing.T) {
	srv := startTestServer(t, nil)

	clients := []*client.Client{srv.dial(t), srv.dial(t), srv.dial(t)}
	srv.waitForSessions(t, 3)

	require.NoError(t, srv.hub.Shutdown(2*time.Second))

	for i, c := range clients {
		select {
		case <-c.Done():
		case <-time.After(eventTimeout):
			t.Fatalf("client %d still connected after shutdown", i)
		}
	}
	assert.Equal(t, 0, srv.hub.Registry().Len())

	header := http.Header{}
	header.Set("Origin", srv.origin)
	conn, resp, err := websocket.DefaultDialer.Dial(srv.wsURL, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTP_SessionsSnapshot(t *testing.T) {
	srv := startTestServer(t, nil)

	a := srv.dial(t)
	_ = srv.dial(t)
	srv.waitForSessions(t, 2)

	require.NoError(t, a.SendLocation(12.5, -7.25))
	echo := nextLocation(t, a)

	req, err := http.NewRequest(http.MethodGet, srv.http.URL+"/api/sessions", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Origin", srv.origin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, srv.origin, resp.Header.Get("Access-Control-Allow-Origin"))

	var body SessionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Connected)
	assert.Equal(t, []SessionPosition{{ID: echo.ID, Latitude: 12.5, Longitude: -7.25}}, body.Sessions)
}

func TestHTTP_StaticRoutes(t *testing.T) {
	srv := startTestServer(t, nil)
	_ = srv.dial(t)
	srv.waitForSessions(t, 1)

	tests := []struct {
		path        string
		contentType string
		contains    string
	}{
		{path: "/", contentType: "text/plain", contains: "geoshare hub is running!"},
		{path: "/test", contentType: "text/html", contains: "send-location"},
		{path: "/metrics", contains: "connected_sessions"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.http.URL + tt.path)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			}
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.contains)
		})
	}
}
