package messaging

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/moderation/internal/logging"
)

func TestResultSubject(t *testing.T) {
	assert.Equal(t, "moderation.result.abc-123", ResultSubject("abc-123"))
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, -1, cfg.MaxReconnects)
}

// newTestClient connects to NATS_URL (or the default URL). Tests are skipped
// when no server is reachable.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.URL = url
	}
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, logging.Discard())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestRequestAnalyze_RoundTrip(t *testing.T) {
	worker := newTestClient(t)
	client := newTestClient(t)

	require.NoError(t, worker.SubscribeAnalyze(func(msg *nats.Msg) {
		_ = msg.Respond(append([]byte("echo:"), msg.Data...))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := client.RequestAnalyze(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(reply))
}

func TestPublishResult_Subscribe(t *testing.T) {
	c := newTestClient(t)
	got := make(chan []byte, 1)

	require.NoError(t, c.SubscribeResult("req-1", func(data []byte) { got <- data }))
	require.NoError(t, c.conn.Flush())
	require.NoError(t, c.PublishResult("req-1", []byte("done")))

	select {
	case data := <-got:
		assert.Equal(t, "done", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("result not delivered")
	}
	require.NoError(t, c.UnsubscribeResult("req-1"))
	assert.Error(t, c.UnsubscribeResult("req-1"), "second unsubscribe has nothing to remove")
}

func TestAwaitResult_RoundTrip(t *testing.T) {
	worker := newTestClient(t)
	client := newTestClient(t)

	// The payload doubles as the request id so the worker knows where to answer.
	require.NoError(t, worker.SubscribeAnalyze(func(msg *nats.Msg) {
		assert.Empty(t, msg.Reply)
		_ = worker.PublishResult(string(msg.Data), []byte("done"))
	}))
	require.NoError(t, worker.conn.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := client.AwaitResult(ctx, "req-2", []byte("req-2"))
	require.NoError(t, err)
	assert.Equal(t, "done", string(reply))
	assert.Error(t, client.UnsubscribeResult("req-2"), "subscription is released after the result arrives")
}

func TestAwaitResult_Timeout(t *testing.T) {
	c := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := c.AwaitResult(ctx, "req-unanswered", []byte("hello"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Error(t, c.UnsubscribeResult("req-unanswered"), "subscription is released on timeout")
}
