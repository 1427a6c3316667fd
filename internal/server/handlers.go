// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the position snapshot, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/geoshare/internal/metrics"
)

// WebSocketHandler upgrades requests on the hub endpoint and attaches each
// connection to the hub as a new session.
type WebSocketHandler struct {
	hub      *Hub
	cfg      *Config
	metrics  *metrics.AppMetrics
	upgrader websocket.Upgrader
}

// NewWebSocketHandler builds the upgrade handler for hub using cfg's origin
// allow-list and limits.
func NewWebSocketHandler(hub *Hub, cfg *Config, m *metrics.AppMetrics) *WebSocketHandler {
	policy := newOriginPolicy(cfg.AllowedOrigins)
	return &WebSocketHandler{
		hub:     hub,
		cfg:     cfg,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
	}
}

// ServeHTTP validates that the request uses the GET method, upgrades it and
// hands the resulting client to the hub.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if h.hub.isClosing() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("remote", r.RemoteAddr).Debugf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.cfg, h.metrics)
	if err := h.hub.Attach(client); err != nil {
		if IsDuplicate(err) {
			log.WithField("remote", r.RemoteAddr).Errorf("Rejected connection with live session id: %v", err)
		}
		return
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "geoshare hub is running!")
}

// SessionPosition is one entry of the snapshot served by SessionsHandler.
type SessionPosition struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SessionsResponse is the body served by SessionsHandler.
type SessionsResponse struct {
	Connected int               `json:"connected"`
	Sessions  []SessionPosition `json:"sessions"`
}

// SessionsHandler serves the latest known position of every connected
// session so a fresh page can draw markers before the next update arrives.
func SessionsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		positions := hub.Registry().Positions()
		resp := SessionsResponse{
			Connected: hub.Registry().Len(),
			Sessions:  make([]SessionPosition, 0, len(positions)),
		}
		for id, pos := range positions {
			resp.Sessions = append(resp.Sessions, SessionPosition{ID: id, Latitude: pos.Latitude, Longitude: pos.Longitude})
		}
		slices.SortFunc(resp.Sessions, func(a, b SessionPosition) int {
			return strings.Compare(a.ID, b.ID)
		})

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warnf("Error writing sessions response: %v", err)
		}
	}
}

// TestPageHandler serves an HTML page that reports a position by hand and
// lists the events the hub sends back.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		log.Warnf("Error writing HTML response: %v", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>geoshare WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="number"] { width: 140px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>geoshare WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="number" id="lat" step="any" placeholder="latitude" disabled>
        <input type="number" id="lng" step="any" placeholder="longitude" disabled>
        <button id="sendButton" onclick="sendLocation()" disabled>Send location</button>
        <button id="geoButton" onclick="useGeolocation()" disabled>Use my position</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const latInput = document.getElementById('lat');
        const lngInput = document.getElementById('lng');
        const sendButton = document.getElementById('sendButton');
        const geoButton = document.getElementById('geoButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            eventsDiv.appendChild(line);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function setConnected(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            latInput.disabled = !connected;
            lngInput.disabled = !connected;
            sendButton.disabled = !connected;
            geoButton.disabled = !connected || !navigator.geolocation;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => { addLine('connected'); setConnected(true); };
            ws.onmessage = (event) => {
                const frame = JSON.parse(event.data);
                const color = frame.event === 'user-disconnected' ? 'firebrick' : 'green';
                addLine(frame.event + ' ' + JSON.stringify(frame.data), color);
            };
            ws.onclose = () => { addLine('connection closed'); setConnected(false); ws = null; };
            ws.onerror = () => { addLine('connection error'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(latitude, longitude) {
            if (!ws || ws.readyState !== WebSocket.OPEN) return;
            ws.send(JSON.stringify({ event: 'send-location', data: { latitude, longitude } }));
            addLine('send-location ' + latitude + ', ' + longitude, 'blue');
        }

        function sendLocation() {
            const latitude = parseFloat(latInput.value);
            const longitude = parseFloat(lngInput.value);
            if (Number.isFinite(latitude) && Number.isFinite(longitude)) {
                send(latitude, longitude);
            }
        }

        function useGeolocation() {
            navigator.geolocation.getCurrentPosition(
                (pos) => send(pos.coords.latitude, pos.coords.longitude),
                (err) => addLine('geolocation error: ' + err.message, 'firebrick'));
        }
    </script>
</body>
</html>`
