package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/geoshare/internal/protocol"
)

// echoHub answers every send-location with a receive-location for "peer".
func echoHub(t *testing.T, connections *atomic.Int64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		if connections != nil {
			connections.Add(1)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			loc, err := protocol.DecodeLocation(data)
			if err != nil {
				continue
			}
			frame, err := protocol.EncodeReceiveLocation("peer", loc.Latitude, loc.Longitude)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestDial_SendAndReceive(t *testing.T) {
	ts := echoHub(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(ts), ts.URL)
	require.NoError(t, err)

	require.NoError(t, c.SendLocation(48.85, 2.35))

	select {
	case ev := <-c.Events():
		require.Equal(t, protocol.EventReceiveLocation, ev.Name)
		rl, err := protocol.ParseReceiveLocation(ev.Data)
		require.NoError(t, err)
		assert.Equal(t, protocol.ReceiveLocation{ID: "peer", Latitude: 48.85, Longitude: 2.35}, rl)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
	assert.Error(t, c.Err())
	_, ok := <-c.Events()
	assert.False(t, ok)
}

func TestDial_HandshakeRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, wsURL(ts), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestStep_StaysWithinBounds(t *testing.T) {
	starts := []protocol.Location{
		{Latitude: 0, Longitude: 0},
		{Latitude: 89.9999, Longitude: 179.9999},
		{Latitude: -89.9999, Longitude: -179.9999},
		{Latitude: 90, Longitude: 0},
	}

	for _, start := range starts {
		pos := start
		for i := 0; i < 500; i++ {
			pos = step(pos, 50)
			require.NoError(t, pos.Validate(), "step from %+v produced %+v", start, pos)
		}
	}
}

func TestStep_RespectsDistance(t *testing.T) {
	start := protocol.Location{Latitude: 10, Longitude: 10}
	for i := 0; i < 200; i++ {
		next := step(start, 100)
		assert.InDelta(t, start.Latitude, next.Latitude, 100/metersPerDegree+1e-9)
	}
}

func TestSimulator_InvalidCenter(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Center: protocol.Location{Latitude: 120}})

	assert.Error(t, sim.Run(context.Background()))
}

func TestSimulator_ReportsPositions(t *testing.T) {
	var connections atomic.Int64
	ts := echoHub(t, &connections)

	sim := NewSimulator(SimulatorConfig{
		URL:      wsURL(ts),
		Origin:   ts.URL,
		Walkers:  3,
		Interval: 10 * time.Millisecond,
		Center:   protocol.Location{Latitude: 51.5, Longitude: -0.12},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	require.Eventually(t, func() bool {
		s := sim.Stats()
		return s.Sent >= 9 && s.Received >= 3
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("simulator did not stop")
	}

	assert.Equal(t, int64(3), connections.Load())
	assert.Zero(t, sim.Stats().Reconnects)
}
