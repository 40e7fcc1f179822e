// Package client provides a reusable WebSocket load test client for the
// moderation server. It connects using gobwas/ws (the same library the server
// uses), waits for the ready handshake, and correlates analyze replies with
// their requests by ID.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/moderation/internal/protocol"
)

// ErrClosed is returned for requests still pending when the connection closes.
var ErrClosed = errors.New("client: connection closed")

// RateLimitedError is returned by Analyze when the server throttled the
// request.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("client: rate limited, retry after %s", e.RetryAfter)
}

// ServerError is returned by Analyze when the server answered with an error
// message.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("client: server error %s: %s", e.Code, e.Message)
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	ReadyLatency     time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client represents a single simulated moderation client. Analyze may be
// called from multiple goroutines.
type Client struct {
	conn      net.Conn
	ready     chan protocol.ReadyMsg
	session   protocol.ReadyMsg
	writeMu   sync.Mutex
	mu        sync.Mutex
	metrics   Metrics
	pending   map[string]chan reply
	nextID    atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
	start     time.Time
}

type reply struct {
	result *protocol.ResultMsg
	err    error
}

// New dials url and starts the read loop. Call WaitReady before analyzing.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:    conn,
		ready:   make(chan protocol.ReadyMsg, 1),
		pending: make(map[string]chan reply),
		done:    make(chan struct{}),
		start:   start,
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// WaitReady blocks until the server's ready message arrives.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case msg := <-c.ready:
		c.mu.Lock()
		c.session = msg
		c.mu.Unlock()
		return nil
	}
}

// SessionID returns the ID assigned in the ready message.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.SessionID
}

// Analyze sends text and waits for the matching result.
func (c *Client) Analyze(ctx context.Context, text string) (*protocol.ResultMsg, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan reply, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(protocol.AnalyzeMsg{Type: protocol.TypeAnalyze, ID: id, Text: text}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	case r := <-ch:
		return r.result, r.err
	}
}

// Ping sends an application-level ping.
func (c *Client) Ping() error {
	return c.send(protocol.PingMsg{Type: protocol.TypePing})
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return nil
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Alive reports whether the read loop is still running.
func (c *Client) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop reads server messages until the connection fails, resolving
// pending Analyze calls by request ID.
func (c *Client) readLoop() {
	defer c.Close()

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		c.mu.Unlock()

		var envelope struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case protocol.TypeReady:
			var msg protocol.ReadyMsg
			if json.Unmarshal(data, &msg) == nil {
				c.mu.Lock()
				c.metrics.ReadyLatency = time.Since(c.start)
				c.mu.Unlock()
				select {
				case c.ready <- msg:
				default:
				}
			}
		case protocol.TypeResult:
			var msg protocol.ResultMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				c.resolve(envelope.ID, reply{err: err})
				continue
			}
			c.resolve(envelope.ID, reply{result: &msg})
		case protocol.TypeRateLimited:
			var msg protocol.RateLimitedMsg
			_ = json.Unmarshal(data, &msg)
			c.resolve(envelope.ID, reply{err: &RateLimitedError{RetryAfter: time.Duration(msg.RetryAfter) * time.Second}})
		case protocol.TypeError:
			var msg protocol.ErrorMsg
			_ = json.Unmarshal(data, &msg)
			c.resolve(envelope.ID, reply{err: &ServerError{Code: msg.Code, Message: msg.Message}})
		}
	}
}

func (c *Client) resolve(id string, r reply) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- r:
	default:
	}
}
