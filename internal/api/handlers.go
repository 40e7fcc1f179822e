package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/moderation/internal/analysis"
	"github.com/whisper/moderation/internal/metrics"
	"github.com/whisper/moderation/internal/moderation"
	"github.com/whisper/moderation/internal/report"
	"github.com/whisper/moderation/internal/ws"
)

// CodePersistenceDisabled is returned when reports are requested from a
// server running without a database.
const CodePersistenceDisabled = "persistence_disabled"

type analyzeRequest struct {
	Text    *string `json:"text"`
	Persist bool    `json:"persist"`
}

type analyzeResponse struct {
	*moderation.Result
	ReportID string `json:"report_id,omitempty"`
}

// handleAnalyze serves POST /v1/analyze.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := ws.ClientIP(r)
	if ok, retry := s.allow(ctx, ip, s.opts.AnalyzeRule); !ok {
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeRateLimited).Inc()
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retry)))
		writeError(w, http.StatusTooManyRequests, moderation.CodeRateLimited, "rate limit exceeded")
		return
	}
	s.setQuotaHeaders(ctx, w, ip, s.opts.AnalyzeRule)

	var req analyzeRequest
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, moderation.CodeTextTooLong, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, moderation.CodeBadRequest, "invalid JSON body")
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, moderation.CodeBadRequest, `missing "text" field`)
		return
	}
	if req.Persist && !s.svc.PersistenceEnabled() {
		writeError(w, http.StatusServiceUnavailable, CodePersistenceDisabled, "report persistence is disabled")
		return
	}

	res, err := s.svc.Analyze(ctx, *req.Text)
	if err != nil {
		var tooLong *moderation.TextTooLongError
		if errors.As(err, &tooLong) {
			writeError(w, http.StatusRequestEntityTooLarge, moderation.CodeTextTooLong, tooLong.Error())
			return
		}
		s.log.WithError(err).Error("analyze failed")
		writeError(w, http.StatusInternalServerError, moderation.CodeInternal, "analysis failed")
		return
	}

	resp := analyzeResponse{Result: res}
	if req.Persist {
		id, err := s.svc.Persist(ctx, res)
		if err != nil {
			s.log.WithError(err).Error("persist failed")
			writeError(w, http.StatusInternalServerError, moderation.CodeInternal, "failed to store report")
			return
		}
		resp.ReportID = id.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadReport resolves the {id} path value, writing the error response itself
// when it returns nil.
func (s *Server) loadReport(w http.ResponseWriter, r *http.Request) *report.Report {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, moderation.CodeBadRequest, "invalid report id")
		return nil
	}
	rep, err := s.svc.Report(r.Context(), id)
	switch {
	case err == nil:
		return rep
	case errors.Is(err, report.ErrNotFound):
		writeError(w, http.StatusNotFound, moderation.CodeNotFound, "report not found")
	case errors.Is(err, analysis.ErrPersistenceDisabled):
		writeError(w, http.StatusServiceUnavailable, CodePersistenceDisabled, "report persistence is disabled")
	default:
		s.log.WithError(err).WithField("report_id", id).Error("load report failed")
		writeError(w, http.StatusInternalServerError, moderation.CodeInternal, "failed to load report")
	}
	return nil
}

// handleGetReport serves GET /v1/reports/{id}.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if rep := s.loadReport(w, r); rep != nil {
		writeJSON(w, http.StatusOK, rep)
	}
}

// handleExportReport serves GET /v1/reports/{id}/export?format=json|report.
func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "report" {
		writeError(w, http.StatusBadRequest, moderation.CodeBadRequest, `format must be "json" or "report"`)
		return
	}

	rep := s.loadReport(w, r)
	if rep == nil {
		return
	}

	var err error
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="moderation-report.json"`)
		err = moderation.WriteJSON(w, rep.Result)
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="moderation-report.txt"`)
		err = moderation.WriteReport(w, rep.Result)
	}
	if err != nil {
		s.log.WithError(err).WithField("report_id", rep.ID).Warn("export write failed")
	}
}

// handleListReports serves GET /v1/reports?limit=N.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, moderation.CodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, report.MaxListLimit)
	}

	reports, err := s.svc.RecentReports(r.Context(), limit)
	switch {
	case errors.Is(err, analysis.ErrPersistenceDisabled):
		writeError(w, http.StatusServiceUnavailable, CodePersistenceDisabled, "report persistence is disabled")
		return
	case err != nil:
		s.log.WithError(err).Error("list reports failed")
		writeError(w, http.StatusInternalServerError, moderation.CodeInternal, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []*report.Report{}
	}
	writeJSON(w, http.StatusOK, struct {
		Reports []*report.Report `json:"reports"`
	}{reports})
}

type categoryInfo struct {
	Name   string  `json:"name"`
	Reason string  `json:"reason"`
	Weight float64 `json:"weight"`
}

// handleRuleset serves GET /v1/ruleset.
func (s *Server) handleRuleset(w http.ResponseWriter, r *http.Request) {
	rules := s.svc.Engine().Ruleset()
	cats := make([]categoryInfo, 0, len(moderation.Categories()))
	for _, c := range moderation.Categories() {
		cats = append(cats, categoryInfo{Name: c.String(), Reason: c.Reason(), Weight: rules.CategoryWeight(c)})
	}
	writeJSON(w, http.StatusOK, struct {
		Version            string         `json:"version"`
		MaxLength          int            `json:"max_length"`
		ObfuscationPenalty float64        `json:"obfuscation_penalty"`
		Terms              int            `json:"terms"`
		Patterns           int            `json:"patterns"`
		Categories         []categoryInfo `json:"categories"`
	}{
		Version:            rules.Version,
		MaxLength:          s.svc.Engine().MaxLength(),
		ObfuscationPenalty: rules.ObfuscationPenalty,
		Terms:              rules.NumTerms(),
		Patterns:           rules.NumPatterns(),
		Categories:         cats,
	})
}

// handleHealth responds with the server's health status as JSON, including the
// current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status         string `json:"status"`
		RulesetVersion string `json:"ruleset_version"`
		Connections    int    `json:"connections"`
		Persistence    bool   `json:"persistence"`
		Uptime         string `json:"uptime"`
	}{
		Status:         "ok",
		RulesetVersion: s.svc.RulesetVersion(),
		Connections:    s.ws.Connections().Count(),
		Persistence:    s.svc.PersistenceEnabled(),
		Uptime:         time.Since(s.startedAt).Round(time.Second).String(),
	})
}
