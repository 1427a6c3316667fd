// Package server coordinates session registration, location fan-out, and
// connection cleanup for the geoshare WebSocket system via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/geoshare/internal/metrics"
	"github.com/Tyrowin/geoshare/internal/protocol"
	"github.com/Tyrowin/geoshare/internal/session"
)

// Hub translates transport events into registry mutations and fan-out sends.
// It owns its registry; nothing else mutates it.
type Hub struct {
	registry *session.Registry
	metrics  *metrics.AppMetrics
	echo     bool

	// mu orders Attach against Shutdown so no pump starts after Wait.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates a hub with an empty registry.
func NewHub(cfg *Config, m *metrics.AppMetrics) *Hub {
	return &Hub{
		registry: session.NewRegistry(m),
		metrics:  m,
		echo:     cfg.EchoToSender,
	}
}

// Registry exposes the hub's session registry for read-only use.
func (h *Hub) Registry() *session.Registry {
	return h.registry
}

// OnConnect registers c. A duplicate id closes c and returns
// session.ErrDuplicateSession.
func (h *Hub) OnConnect(c Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connect(c)
}

func (h *Hub) connect(c Conn) error {
	entry := log.WithField("session", c.ID())

	if h.closing {
		_ = c.Close()
		return ErrHubClosed
	}

	if _, err := h.registry.Register(c.ID(), c); err != nil {
		h.metrics.RejectedRegisters.Add(context.Background(), 1)
		entry.Errorf("closing connection: %v", err)
		_ = c.Close()
		return err
	}

	entry.Infof("Session connected. Total sessions: %d", h.registry.Len())
	return nil
}

// Attach registers a WebSocket client and starts its pumps.
func (h *Hub) Attach(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.connect(c); err != nil {
		return err
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return nil
}

// OnMessage handles a frame received from c. Malformed frames and frames from
// sessions that are already gone are dropped.
func (h *Hub) OnMessage(c Conn, raw []byte) {
	ctx := context.Background()
	id := c.ID()
	entry := log.WithField("session", id)

	loc, err := protocol.DecodeLocation(raw)
	if err != nil {
		h.metrics.InvalidPayloads.Add(ctx, 1)
		entry.Debugf("discarding frame: %v", err)
		return
	}

	if err := h.registry.SetPosition(id, loc.Latitude, loc.Longitude); err != nil {
		entry.Debugf("discarding location: %v", err)
		return
	}
	h.metrics.LocationUpdates.Add(ctx, 1)

	frame, err := protocol.EncodeReceiveLocation(id, loc.Latitude, loc.Longitude)
	if err != nil {
		entry.Errorf("encoding location: %v", err)
		return
	}

	targets := h.registry.All()
	if !h.echo {
		targets = h.registry.AllExcept(id)
	}

	delivered := h.deliver(targets, frame)
	entry.Debugf("Broadcast location to %d sessions", delivered)
}

// OnClose unregisters c and notifies the remaining sessions.
func (h *Hub) OnClose(c Conn) {
	id := c.ID()
	entry := log.WithField("session", id)

	// A rejected duplicate must not tear down the live session holding its id.
	if s, ok := h.registry.Get(id); !ok || !s.Owns(c) {
		return
	}

	if !h.registry.Unregister(id) {
		return
	}

	frame, err := protocol.EncodeUserDisconnected(id)
	if err != nil {
		entry.Errorf("encoding disconnect: %v", err)
		return
	}

	delivered := h.deliver(h.registry.AllExcept(id), frame)
	entry.Infof("Session disconnected, notified %d sessions. Total sessions: %d", delivered, h.registry.Len())
}

// deliver sends frame to every target. A failing target is skipped; no
// delivery is retried.
func (h *Hub) deliver(targets iter.Seq[*session.Session], frame []byte) int {
	ctx := context.Background()
	delivered := 0

	for s := range targets {
		if err := safeSend(s, frame); err != nil {
			h.metrics.DeliveryFailures.Add(ctx, 1)
			log.WithField("session", s.ID).Debugf("delivery failed: %v", err)
			continue
		}
		h.metrics.Deliveries.Add(ctx, 1)
		delivered++
	}

	return delivered
}

func safeSend(s *session.Session, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic in send: %v", r)
		}
	}()
	return s.Send(frame)
}

// Shutdown stops accepting connections, closes every live session and waits
// for the client pumps to finish or timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info("Initiating hub shutdown...")

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil
	}
	h.closing = true
	h.mu.Unlock()

	closed := 0
	for s := range h.registry.All() {
		if err := s.Close(); err != nil && !isExpectedCloseError(err) {
			log.WithField("session", s.ID).Warnf("Error closing connection: %v", err)
		}
		closed++
	}
	log.Infof("Closed %d client connections", closed)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return fmt.Errorf("hub shutdown: %w", context.DeadlineExceeded)
	}
}

// isClosing reports whether Shutdown has been called.
func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// IsDuplicate reports whether err came from registering a live id twice.
func IsDuplicate(err error) bool {
	return errors.Is(err, session.ErrDuplicateSession)
}
