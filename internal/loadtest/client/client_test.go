package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/moderation/internal/analysis"
	"github.com/whisper/moderation/internal/api"
	"github.com/whisper/moderation/internal/logging"
	"github.com/whisper/moderation/internal/moderation"
	"github.com/whisper/moderation/internal/protocol"
)

func startServer(t *testing.T) string {
	t.Helper()
	rules, err := moderation.DefaultRuleset()
	require.NoError(t, err)
	svc := analysis.NewService(moderation.New(rules, moderation.WithMaxLength(200)), logging.Discard())

	opts := api.DefaultOptions()
	opts.WS.Heartbeat.Interval = 0
	srv := api.NewServer(svc, nil, opts, logging.Discard())
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		hs.Close()
		srv.Shutdown()
	})
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.WaitReady(ctx))
	return c
}

func TestClient_Analyze(t *testing.T) {
	c := connect(t, startServer(t))
	assert.NotEmpty(t, c.SessionID())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Analyze(ctx, "this is shit")
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeResult, res.Type)
	require.NotNil(t, res.Result)
	require.Len(t, res.Result.Flags, 1)
	assert.Equal(t, moderation.Profanity, res.Result.Flags[0].Type)

	m := c.GetMetrics()
	assert.Equal(t, 1, m.MessagesSent)
	assert.Equal(t, 2, m.MessagesReceived, "ready plus one result")
	assert.Positive(t, m.ConnectLatency)
}

func TestClient_ServerError(t *testing.T) {
	c := connect(t, startServer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Analyze(ctx, strings.Repeat("a", 201))
	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr), "got %v", err)
	assert.Equal(t, protocol.CodeTextTooLong, serverErr.Code)
}

func TestClient_ConcurrentAnalyze(t *testing.T) {
	c := connect(t, startServer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	texts := []string{"hello", "you idiot", "buy now", "i'll kill you", "nice day"}
	var wg sync.WaitGroup
	for _, text := range texts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Analyze(ctx, text)
			if assert.NoError(t, err) {
				assert.Equal(t, text, res.Result.Text, "reply matched to its request")
			}
		}()
	}
	wg.Wait()
}

func TestClient_CloseFailsPending(t *testing.T) {
	c := connect(t, startServer(t))
	require.True(t, c.Alive())
	require.NoError(t, c.Close())
	assert.False(t, c.Alive())

	_, err := c.Analyze(context.Background(), "hello")
	assert.Error(t, err)
}
