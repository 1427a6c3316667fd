// Package server defines the connection abstraction shared by the hub and the
// WebSocket transport, plus small helpers reused across both.
package server

import (
	"errors"
	"net"
	"strings"
)

var (
	// ErrClientClosed is returned by Send once a connection has been closed.
	ErrClientClosed = errors.New("client connection closed")

	// ErrHubClosed is returned when a connection arrives after Shutdown.
	ErrHubClosed = errors.New("hub is shutting down")
)

// Conn is one client's bidirectional channel as seen by the hub.
type Conn interface {
	// ID is assigned at connect time and stays stable until the channel closes.
	ID() string
	// Send queues msg for delivery without blocking.
	Send(msg []byte) error
	Close() error
}

// EventHandler receives transport events for a connection.
type EventHandler interface {
	OnConnect(c Conn) error
	OnMessage(c Conn, raw []byte)
	OnClose(c Conn)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
