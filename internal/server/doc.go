// Package server implements the WebSocket hub of geoshare.
//
// The implementation is organized into specialized files for configuration, hub
// fan-out, clients, routing, and HTTP handlers. The Hub only talks to
// connections through the Conn interface, so it can be exercised in tests
// without a network listener.
package server
