// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, maintaining active client sessions, and dispatching
// incoming messages to the appropriate handlers.
package ws

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	MaxConnections int           // hard cap on total connections
	MaxMessageSize int64         // largest accepted data message in bytes
	ReadTimeout    time.Duration // a connection silent for this long is closed
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 10000,
		MaxMessageSize: 64 << 10,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades HTTP requests to WebSocket and runs one read goroutine per
// connection. Messages on a connection are handled in arrival order.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onConnect    func(conn *Connection)
	onDisconnect func(conn *Connection)
	log          *logrus.Entry
	wg           sync.WaitGroup
	done         chan struct{}
	closeOnce    sync.Once
}

// NewServer creates a Server. The onMessage function is called from the
// connection's read goroutine for every complete text or binary message.
func NewServer(config ServerConfig, logger logrus.FieldLogger, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		onMessage: onMessage,
		log:       logger.WithField("component", "ws"),
		done:      make(chan struct{}),
	}
}

// Start launches the heartbeat monitor. The server itself is an
// http.Handler and is mounted by the caller.
func (s *Server) Start() {
	if s.config.Heartbeat.Interval > 0 {
		go s.runHeartbeat()
	}
}

// SetOnConnect registers a callback invoked after a connection is upgraded
// and registered, before its first message is read.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked once when a connection is
// removed (read error, heartbeat timeout, close frame or shutdown).
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// ServeHTTP upgrades the request using the gobwas/ws zero-copy upgrader and
// serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce maximum connection limit.
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.WithError(err).Debug("upgrade failed")
		return
	}

	c := &Connection{
		ID:           uuid.New().String(),
		Conn:         conn,
		RemoteIP:     ClientIP(r),
		CreatedAt:    time.Now(),
		writeTimeout: s.config.WriteTimeout,
	}
	c.Touch()
	s.conns.Add(c)

	s.log.WithFields(logrus.Fields{
		"session": c.ID,
		"remote":  c.RemoteIP,
		"total":   s.conns.Count(),
	}).Info("new connection")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.onConnect != nil {
			s.onConnect(c)
		}
		s.readLoop(c)
	}()
}

// readLoop reads frames until the connection fails or the client closes it.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		if s.config.ReadTimeout > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			if !isClosedErr(err) {
				s.log.WithField("session", c.ID).WithError(err).Debug("read failed")
			}
			return
		}

		// Any frame proves the connection is alive.
		c.Touch()

		if header.OpCode.IsControl() {
			if !s.handleControl(c, header, reader) {
				return
			}
			continue
		}

		data, err := readMessage(reader, s.config.MaxMessageSize)
		if err != nil {
			s.log.WithField("session", c.ID).WithError(err).Warn("dropping connection")
			_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusMessageTooBig, "message too big")))
			return
		}
		if len(data) == 0 || s.onMessage == nil {
			continue
		}
		s.onMessage(c, data)
	}
}

// handleControl answers pings and close frames. It returns false when the
// connection should be torn down.
func (s *Server) handleControl(c *Connection, header ws.Header, reader io.Reader) bool {
	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return false
	}

	switch header.OpCode {
	case ws.OpPing:
		return c.writeFrame(ws.NewPongFrame(payload)) == nil
	case ws.OpClose:
		_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		return false
	default:
		return true
	}
}

var errMessageTooBig = errors.New("ws: message exceeds size limit")

func readMessage(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errMessageTooBig
	}
	return data, nil
}

// RemoveConnection removes a connection from the connection manager and
// closes it. It is safe to call more than once.
func (s *Server) RemoveConnection(c *Connection) {
	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when multiple goroutines race to remove
	// the same connection (e.g., read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	s.log.WithFields(logrus.Fields{
		"session": c.ID,
		"total":   s.conns.Count(),
	}).Info("connection closed")
}

// Connections returns the ConnectionManager for external access to connection
// state.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the heartbeat, closes every connection and waits for the
// read goroutines to exit.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	for _, c := range s.conns.All() {
		_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "server shutting down")))
		s.RemoveConnection(c)
	}
	s.wg.Wait()
	s.log.Info("server stopped, all connections closed")
}

// ClientIP extracts the client IP, honoring the first X-Forwarded-For hop set
// by the load balancer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closed wsutil.ClosedError
	return errors.As(err, &closed)
}
