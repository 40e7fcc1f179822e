package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/metrics"
	"github.com/whisper/moderation/internal/moderation"
	"github.com/whisper/moderation/internal/protocol"
	"github.com/whisper/moderation/internal/ws"
)

// wsAnalyzeTimeout bounds backend calls made on behalf of one WebSocket
// analyze message.
const wsAnalyzeTimeout = 5 * time.Second

// sessionTimeout bounds session registry writes. They are best effort.
const sessionTimeout = 500 * time.Millisecond

// handleUpgrade serves GET /ws, throttling new connections per client IP.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if ok, retry := s.allow(r.Context(), ws.ClientIP(r), s.opts.ConnectRule); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retry)))
		writeError(w, http.StatusTooManyRequests, moderation.CodeRateLimited, "too many connection attempts")
		return
	}
	s.ws.ServeHTTP(w, r)
}

func (s *Server) onConnect(conn *ws.Connection) {
	s.trackSession(conn, "create", func(ctx context.Context, t SessionTracker) error {
		return t.Create(ctx, conn.ID, conn.RemoteIP)
	})
	s.dispatcher.Send(conn, protocol.TypeReady, protocol.ReadyMsg{
		SessionID:      conn.ID,
		RulesetVersion: s.svc.RulesetVersion(),
		MaxLength:      s.svc.Engine().MaxLength(),
	})
}

// handleWSAnalyze answers one analyze message on the connection's read
// goroutine, so replies keep request order.
func (s *Server) handleWSAnalyze(conn *ws.Connection, msg any) {
	m, ok := msg.(protocol.AnalyzeMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsAnalyzeTimeout)
	defer cancel()

	if ok, retry := s.allow(ctx, conn.RemoteIP, s.opts.AnalyzeRule); !ok {
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeRateLimited).Inc()
		s.dispatcher.Send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			ID:         m.ID,
			RetryAfter: retrySeconds(retry),
		})
		return
	}

	res, err := s.svc.Analyze(ctx, m.Text)
	if err != nil {
		var tooLong *moderation.TextTooLongError
		if errors.As(err, &tooLong) {
			s.dispatcher.SendError(conn, m.ID, protocol.CodeTextTooLong, tooLong.Error())
			return
		}
		s.log.WithError(err).WithField("session", conn.ID).Error("analyze failed")
		s.dispatcher.SendError(conn, m.ID, protocol.CodeInternal, "analysis failed")
		return
	}

	s.dispatcher.Send(conn, protocol.TypeResult, protocol.ResultMsg{ID: m.ID, Result: res})
	s.trackSession(conn, "record", func(ctx context.Context, t SessionTracker) error {
		return t.RecordAnalysis(ctx, conn.ID, len(res.Flags) > 0)
	})
}

func (s *Server) onDisconnect(conn *ws.Connection) {
	s.trackSession(conn, "delete", func(ctx context.Context, t SessionTracker) error {
		return t.Delete(ctx, conn.ID)
	})
}

// trackSession runs op against the session registry, logging failures.
func (s *Server) trackSession(conn *ws.Connection, op string, fn func(context.Context, SessionTracker) error) {
	if s.opts.Sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
	defer cancel()
	if err := fn(ctx, s.opts.Sessions); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"session": conn.ID,
			"op":      op,
		}).Warn("session registry update failed")
	}
}
