package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/moderation/internal/logging"
	"github.com/whisper/moderation/internal/metrics"
	"github.com/whisper/moderation/internal/protocol"
)

func testConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = time.Second
	cfg.Heartbeat = HeartbeatConfig{}
	return cfg
}

type testServer struct {
	*Server
	dispatcher *MessageDispatcher
	url        string
}

func newTestServer(t *testing.T, cfg ServerConfig) *testServer {
	t.Helper()
	d := NewMessageDispatcher(logging.Discard())
	s := NewServer(cfg, logging.Discard(), d.Dispatch)
	hs := httptest.NewServer(s)
	t.Cleanup(hs.Close)
	t.Cleanup(s.Shutdown)
	return &testServer{Server: s, dispatcher: d, url: "ws" + strings.TrimPrefix(hs.URL, "http")}
}

func (ts *testServer) dial(t *testing.T) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, ts.url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, msg string) map[string]any {
	t.Helper()
	require.NoError(t, wsutil.WriteClientText(conn, []byte(msg)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestServer_PingPong(t *testing.T) {
	ts := newTestServer(t, testConfig())
	conn := ts.dial(t)

	reply := roundTrip(t, conn, `{"type":"ping"}`)
	assert.Equal(t, protocol.TypePong, reply["type"])
}

func TestServer_InvalidMessage(t *testing.T) {
	ts := newTestServer(t, testConfig())
	conn := ts.dial(t)

	reply := roundTrip(t, conn, `not json`)
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, protocol.CodeInvalidMessage, reply["code"])

	reply = roundTrip(t, conn, `{"type":"result"}`)
	assert.Equal(t, protocol.TypeError, reply["type"])
}

func TestServer_UnregisteredType(t *testing.T) {
	ts := newTestServer(t, testConfig())
	conn := ts.dial(t)

	reply := roundTrip(t, conn, `{"type":"analyze","id":"1","text":"hi"}`)
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, "unsupported message type", reply["message"])
}

func TestServer_RegisteredHandler(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.dispatcher.Register(protocol.TypeAnalyze, func(c *Connection, msg any) {
		m := msg.(protocol.AnalyzeMsg)
		ts.dispatcher.SendError(c, m.ID, "echo", m.Text)
	})
	conn := ts.dial(t)

	for _, id := range []string{"a", "b", "c"} {
		reply := roundTrip(t, conn, `{"type":"analyze","id":"`+id+`","text":"hello `+id+`"}`)
		assert.Equal(t, id, reply["id"], "replies arrive in request order")
		assert.Equal(t, "hello "+id, reply["message"])
	}
}

func TestServer_ConnectAndDisconnectCallbacks(t *testing.T) {
	ts := newTestServer(t, testConfig())
	var connected, disconnected atomic.Int32
	ts.SetOnConnect(func(*Connection) { connected.Add(1) })
	ts.SetOnDisconnect(func(*Connection) { disconnected.Add(1) })

	conn := ts.dial(t)
	require.Eventually(t, func() bool { return ts.Connections().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), connected.Load())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return ts.Connections().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), disconnected.Load())
}

func TestServer_MaxConnections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	ts := newTestServer(t, cfg)

	ts.dial(t)
	require.Eventually(t, func() bool { return ts.Connections().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, _, err := ws.Dial(ctx, ts.url)
	assert.Error(t, err)
}

func TestServer_MessageTooBig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 16
	ts := newTestServer(t, cfg)
	conn := ts.dial(t)
	require.Eventually(t, func() bool { return ts.Connections().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, wsutil.WriteClientText(conn, []byte(strings.Repeat("x", 100))))
	require.Eventually(t, func() bool { return ts.Connections().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Shutdown(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.dial(t)
	require.Eventually(t, func() bool { return ts.Connections().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.Shutdown()
	assert.Equal(t, 0, ts.Connections().Count())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, _, err := ws.Dial(ctx, ts.url)
	assert.Error(t, err, "no upgrades after shutdown")
}

func TestSweep_EvictsIdle(t *testing.T) {
	cfg := testConfig()
	cfg.Heartbeat = HeartbeatConfig{Interval: time.Second, Timeout: time.Second}
	assert.Equal(t, 2*time.Second, cfg.Heartbeat.IdleLimit())

	ts := newTestServer(t, cfg)
	ts.dial(t)
	require.Eventually(t, func() bool { return ts.Connections().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, ts.sweep(time.Now()), "fresh connection survives")
	assert.Equal(t, 1, ts.Connections().Count())

	before := testutil.ToFloat64(metrics.WSEvictions.WithLabelValues("timeout"))
	assert.Equal(t, 1, ts.sweep(time.Now().Add(time.Minute)))
	assert.Equal(t, 0, ts.Connections().Count())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.WSEvictions.WithLabelValues("timeout")))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"remote addr", "10.0.0.1:5555", "", "10.0.0.1"},
		{"forwarded", "10.0.0.1:5555", "203.0.113.7", "203.0.113.7"},
		{"forwarded chain", "10.0.0.1:5555", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"bad forwarded", "10.0.0.1:5555", "garbage", "10.0.0.1"},
		{"no port", "10.0.0.1", "", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
