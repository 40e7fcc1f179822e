// Package analysis is the application layer shared by every moderation
// surface. It runs the engine behind an optional result cache and persists
// reports on request.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/metrics"
	"github.com/whisper/moderation/internal/moderation"
	"github.com/whisper/moderation/internal/report"
)

// ErrPersistenceDisabled is returned by Persist and Report when the service
// was built without a report store.
var ErrPersistenceDisabled = errors.New("analysis: report persistence is disabled")

// ResultCache stores verdicts keyed by input text.
type ResultCache interface {
	Get(ctx context.Context, text string) (*moderation.Result, bool, error)
	Put(ctx context.Context, res *moderation.Result) error
}

// ReportStore persists verdicts as reports.
type ReportStore interface {
	Create(ctx context.Context, res *moderation.Result, rulesetVersion string) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*report.Report, error)
	ListRecent(ctx context.Context, limit int) ([]*report.Report, error)
}

// backendTimeout bounds every cache call so a slow Redis never stalls analysis.
const backendTimeout = 500 * time.Millisecond

// Service runs analyses and owns the cache and report backends.
type Service struct {
	engine  *moderation.Engine
	cache   ResultCache
	reports ReportStore
	log     *logrus.Entry
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables result caching. A nil cache is ignored.
func WithCache(c ResultCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithReports enables report persistence. A nil store is ignored.
func WithReports(r ReportStore) Option {
	return func(s *Service) { s.reports = r }
}

// NewService creates a Service around engine.
func NewService(engine *moderation.Engine, logger logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		log:    logger.WithField("component", "analysis"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the underlying engine.
func (s *Service) Engine() *moderation.Engine { return s.engine }

// RulesetVersion is the version of the rules every verdict is computed with.
func (s *Service) RulesetVersion() string { return s.engine.Ruleset().Version }

// PersistenceEnabled reports whether Persist can succeed.
func (s *Service) PersistenceEnabled() bool { return s.reports != nil }

// Analyze returns the verdict for text. Cache failures are logged and
// otherwise ignored; the only error the engine itself produces is
// *moderation.TextTooLongError.
func (s *Service) Analyze(ctx context.Context, text string) (*moderation.Result, error) {
	// The bound is checked before the cache so a verdict stored by a
	// process with a larger limit is never served for over-long input.
	if err := s.engine.CheckLength(text); err != nil {
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeTooLong).Inc()
		return nil, err
	}
	if res, ok := s.lookup(ctx, text); ok {
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
		return res, nil
	}

	start := time.Now()
	res, err := s.engine.Analyze(text)
	metrics.AnalyzeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, moderation.ErrTextTooLong) {
			metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeTooLong).Inc()
		} else {
			metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		}
		return nil, err
	}

	metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.OverallToxicity.Observe(res.OverallToxicity)
	for _, f := range res.Flags {
		metrics.FlagsTotal.WithLabelValues(f.Type.String()).Inc()
	}

	s.store(ctx, res)
	return res, nil
}

func (s *Service) lookup(ctx context.Context, text string) (*moderation.Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	res, ok, err := s.cache.Get(ctx, text)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		s.log.WithError(err).Warn("cache lookup failed")
		return nil, false
	case !ok:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return res, true
}

func (s *Service) store(ctx context.Context, res *moderation.Result) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()
	if err := s.cache.Put(ctx, res); err != nil {
		s.log.WithError(err).Warn("cache store failed")
	}
}

// Persist saves res as a report and returns its ID.
func (s *Service) Persist(ctx context.Context, res *moderation.Result) (uuid.UUID, error) {
	if s.reports == nil {
		return uuid.Nil, ErrPersistenceDisabled
	}
	id, err := s.reports.Create(ctx, res, s.RulesetVersion())
	if err != nil {
		return uuid.Nil, fmt.Errorf("analysis: persist report: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"report_id": id,
		"flags":     len(res.Flags),
		"toxicity":  res.OverallToxicity,
	}).Info("report persisted")
	return id, nil
}

// Report loads a persisted report. It returns report.ErrNotFound for unknown
// IDs.
func (s *Service) Report(ctx context.Context, id uuid.UUID) (*report.Report, error) {
	if s.reports == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.reports.Get(ctx, id)
}

// RecentReports lists the newest reports first.
func (s *Service) RecentReports(ctx context.Context, limit int) ([]*report.Report, error) {
	if s.reports == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.reports.ListRecent(ctx, limit)
}
