// Package client speaks the geoshare protocol from the client side. It is used
// by the simulator command and by end-to-end tests.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/geoshare/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	eventBuffer  = 256
)

// Client is one connection to a hub.
type Client struct {
	conn   *websocket.Conn
	events chan protocol.Event

	writeMu sync.Mutex // serialises all conn writes
	done    chan struct{}
	err     error
}

// Dial connects to the hub WebSocket at url, presenting origin.
func Dial(ctx context.Context, url, origin string) (*Client, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan protocol.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers decoded frames from the hub. It is closed when the
// connection ends.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the read loop, once Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// SendLocation reports a position to the hub.
func (c *Client) SendLocation(latitude, longitude float64) error {
	frame, err := protocol.EncodeSendLocation(latitude, longitude)
	if err != nil {
		return err
	}
	return c.WriteRaw(frame)
}

// WriteRaw sends frame unchanged. Tests use it to send malformed frames.
func (c *Client) WriteRaw(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a close frame and tears down the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			log.Debugf("ignoring frame from hub: %v", err)
			continue
		}

		select {
		case c.events <- ev:
		default:
			log.Debugf("event buffer full, dropping %s", ev.Name)
		}
	}
}
