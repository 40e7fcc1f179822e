// Package api exposes the moderation engine over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/analysis"
	"github.com/whisper/moderation/internal/metrics"
	"github.com/whisper/moderation/internal/protocol"
	"github.com/whisper/moderation/internal/ratelimit"
	"github.com/whisper/moderation/internal/ws"
)

// DefaultMaxBodyBytes bounds request bodies. It leaves room for a maximum
// length text with every rune JSON-escaped.
const DefaultMaxBodyBytes = 1 << 20

// RateLimiter is satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) time.Duration
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
}

// SessionTracker is satisfied by *session.Store.
type SessionTracker interface {
	Create(ctx context.Context, sessionID, remoteIP string) error
	RecordAnalysis(ctx context.Context, sessionID string, flagged bool) error
	Delete(ctx context.Context, sessionID string) error
}

// Options tunes the API surface.
type Options struct {
	AnalyzeRule  ratelimit.Rule
	ConnectRule  ratelimit.Rule
	MaxBodyBytes int64
	WS           ws.ServerConfig

	// Sessions, when set, mirrors WebSocket sessions into a shared registry.
	Sessions SessionTracker
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		AnalyzeRule:  ratelimit.RuleAnalyze,
		ConnectRule:  ratelimit.RuleConnect,
		MaxBodyBytes: DefaultMaxBodyBytes,
		WS:           ws.DefaultServerConfig(),
	}
}

// Server routes HTTP and WebSocket traffic to an analysis.Service.
type Server struct {
	svc        *analysis.Service
	limiter    RateLimiter
	opts       Options
	ws         *ws.Server
	dispatcher *ws.MessageDispatcher
	mux        *http.ServeMux
	log        *logrus.Entry
	startedAt  time.Time
}

// NewServer builds the API. limiter may be nil to disable rate limiting.
func NewServer(svc *analysis.Service, limiter RateLimiter, opts Options, logger logrus.FieldLogger) *Server {
	s := &Server{
		svc:        svc,
		limiter:    limiter,
		opts:       opts,
		dispatcher: ws.NewMessageDispatcher(logger),
		mux:        http.NewServeMux(),
		log:        logger.WithField("component", "api"),
		startedAt:  time.Now(),
	}
	s.ws = ws.NewServer(opts.WS, logger, s.dispatcher.Dispatch)
	s.ws.SetOnConnect(s.onConnect)
	s.ws.SetOnDisconnect(s.onDisconnect)
	s.dispatcher.Register(protocol.TypeAnalyze, s.handleWSAnalyze)

	s.mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /v1/reports", s.handleListReports)
	s.mux.HandleFunc("GET /v1/reports/{id}", s.handleGetReport)
	s.mux.HandleFunc("GET /v1/reports/{id}/export", s.handleExportReport)
	s.mux.HandleFunc("GET /v1/ruleset", s.handleRuleset)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /ws", s.handleUpgrade)
	return s
}

// Start launches background work such as the WebSocket heartbeat.
func (s *Server) Start() { s.ws.Start() }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Shutdown closes every WebSocket connection. The caller shuts down the
// http.Server first so no new upgrades arrive.
func (s *Server) Shutdown() { s.ws.Shutdown() }

// allow applies rule to id. It reports the retry delay when the request is
// rejected. Limiter errors fail open.
func (s *Server) allow(ctx context.Context, id string, rule ratelimit.Rule) (bool, time.Duration) {
	if s.limiter == nil || rule.Limit <= 0 {
		return true, 0
	}
	ok, _ := s.limiter.Allow(ctx, id, rule)
	if ok {
		return true, 0
	}
	metrics.RateLimited.Inc()
	return false, s.limiter.RetryAfter(ctx, id, rule)
}

// setQuotaHeaders reports the rule's limit and what is left of it. Nothing is
// set when limiting is off or the count cannot be read.
func (s *Server) setQuotaHeaders(ctx context.Context, w http.ResponseWriter, id string, rule ratelimit.Rule) {
	if s.limiter == nil || rule.Limit <= 0 {
		return
	}
	left, err := s.limiter.Remaining(ctx, id, rule)
	if err != nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(left))
}

func retrySeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
