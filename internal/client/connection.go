package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hardspoon/chatsemble/internal/logging"
	"github.com/hardspoon/chatsemble/internal/wire"
)

// Status is the connection lifecycle state.
type Status string

const (
	// StatusDisconnected covers both deliberate disconnects and the
	// wait between reconnect attempts.
	StatusDisconnected Status = "disconnected"
	// StatusConnecting holds only while a dial attempt is in flight.
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	// StatusReady means the connection is up and the initial
	// messages-sync frame has arrived.
	StatusReady Status = "ready"
)

// ErrNotConnected is returned by Send when no connection is up.
var ErrNotConnected = errors.New("not connected")

// DefaultBackoff is the reconnect delay schedule. The retry count
// indexes into it, clamped to the last entry; retries never give up.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// DialFunc establishes one WebSocket connection attempt.
type DialFunc func(ctx context.Context) (*websocket.Conn, error)

// Options configures a ConnectionManager.
type Options struct {
	// URL is the room's WebSocket endpoint (ws:// or wss://).
	URL string
	// Token authenticates the dial. Sent as a query parameter because
	// browser WebSocket APIs cannot set headers.
	Token string
	// Dial overrides the default dialer. Used by tests.
	Dial DialFunc
	// Backoff overrides DefaultBackoff.
	Backoff []time.Duration
	// OnFrame receives every decoded frame.
	OnFrame func(wire.Frame)
	// OnStatus receives every status transition.
	OnStatus func(Status)

	Log *logging.Logger
}

// ConnectionManager owns one room connection and its reconnect loop.
// Each manager carries its own retry timer and counter, so concurrent
// managers for different rooms never interfere with each other.
type ConnectionManager struct {
	dial     DialFunc
	backoff  []time.Duration
	onFrame  func(wire.Frame)
	onStatus func(Status)
	log      *logging.Logger

	mu         sync.Mutex
	status     Status
	conn       *websocket.Conn
	retryCount int
	retryTimer *time.Timer
	closed     bool
}

// NewConnectionManager creates a manager. Call Connect to start it.
func NewConnectionManager(opts Options) (*ConnectionManager, error) {
	dial := opts.Dial
	if dial == nil {
		if opts.URL == "" {
			return nil, errors.New("url is required")
		}
		u, err := url.Parse(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing url: %w", err)
		}
		if opts.Token != "" {
			q := u.Query()
			q.Set("token", opts.Token)
			u.RawQuery = q.Encode()
		}
		target := u.String()
		dial = func(ctx context.Context) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, http.Header{})
			return conn, err
		}
	}

	backoff := opts.Backoff
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	log := opts.Log
	if log == nil {
		log = logging.Silent()
	}

	return &ConnectionManager{
		dial:     dial,
		backoff:  backoff,
		onFrame:  opts.OnFrame,
		onStatus: opts.OnStatus,
		log:      log,
		status:   StatusDisconnected,
	}, nil
}

// Connect starts the connection loop. Calling it while a connection or
// retry is already in flight is a no-op.
func (c *ConnectionManager) Connect() {
	c.mu.Lock()
	if c.status != StatusDisconnected || c.retryTimer != nil {
		c.mu.Unlock()
		return
	}
	c.closed = false
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	go c.attempt()
}

// Disconnect tears down the connection, cancels any pending retry, and
// resets the retry counter. Safe to call repeatedly.
func (c *ConnectionManager) Disconnect() {
	c.mu.Lock()
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryCount = 0
	conn := c.conn
	c.conn = nil
	c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Status returns the current lifecycle state.
func (c *ConnectionManager) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RetryCount returns how many consecutive attempts have failed.
func (c *ConnectionManager) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// Send writes a frame on the live connection.
func (c *ConnectionManager) Send(f wire.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(f)
}

// attempt performs one dial and either enters the connected state or
// schedules the next retry.
func (c *ConnectionManager) attempt() {
	conn, err := c.dial(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Warn().Int("retry", c.retryCount).Err(err).Msg("dial failed")
		c.setStatusLocked(StatusDisconnected)
		c.scheduleRetryLocked()
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.retryCount = 0
	c.setStatusLocked(StatusConnected)
	c.mu.Unlock()

	c.log.Debug().Msg("connected")
	go c.readLoop(conn)
}

// readLoop decodes frames until the connection drops, then schedules a
// reconnect unless the manager was disconnected deliberately.
func (c *ConnectionManager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				if !c.closed {
					c.log.Warn().Err(err).Msg("connection lost")
					c.setStatusLocked(StatusDisconnected)
					c.scheduleRetryLocked()
				}
			}
			c.mu.Unlock()
			return
		}

		frame, err := wire.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		if frame.Type == wire.FrameMessagesSync {
			c.mu.Lock()
			if c.conn == conn {
				c.setStatusLocked(StatusReady)
			}
			c.mu.Unlock()
		}
		if c.onFrame != nil {
			c.onFrame(frame)
		}
	}
}

// scheduleRetryLocked arms the retry timer with the next backoff delay.
// The manager stays disconnected until the timer fires; connecting is
// entered only for the duration of the dial. Caller holds c.mu.
func (c *ConnectionManager) scheduleRetryLocked() {
	delay := retryDelay(c.backoff, c.retryCount)
	c.retryCount++
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retryTimer = nil
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.setStatusLocked(StatusConnecting)
		c.mu.Unlock()
		c.attempt()
	})
}

func (c *ConnectionManager) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	if c.onStatus != nil {
		go c.onStatus(s)
	}
}

// retryDelay returns the delay before the retry with the given count:
// the count indexes the backoff table, clamped to its last entry.
func retryDelay(backoff []time.Duration, count int) time.Duration {
	if count >= len(backoff) {
		count = len(backoff) - 1
	}
	return backoff[count]
}
