package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// metricSnapshot holds the values of all tracked server metrics at a point in
// time.
type metricSnapshot struct {
	timestamp   time.Time
	connections float64
	analyses    float64
	flags       float64
	rateLimited float64
	cacheHits   float64
	// histogram _sum and _count for computing averages
	durationSum   float64
	durationCount float64
	toxicitySum   float64
	toxicityCount float64
}

// Scraper periodically fetches Prometheus metrics from the server and records
// snapshots that can be included in the load test report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []metricSnapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *http.Client
}

// NewScraper creates a new Scraper that will fetch metrics from metricsURL at
// the given interval.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start begins scraping metrics in the background. It takes an initial
// snapshot immediately and then scrapes at the configured interval until the
// context is cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.scrapeOnce(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Final snapshot with a fresh context; ctx is already done.
				s.scrapeOnce(context.Background())
				return
			case <-ticker.C:
				s.scrapeOnce(ctx)
			}
		}
	}()
}

// Stop stops the background scraper and waits for it to finish.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// scrapeOnce fetches the metrics endpoint and records a snapshot. Failed
// scrapes are skipped; the server may not be ready yet.
func (s *Scraper) scrapeOnce(ctx context.Context) {
	snap, err := s.fetch(ctx)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch(ctx context.Context) (metricSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.metricsURL, nil)
	if err != nil {
		return metricSnapshot{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return metricSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return metricSnapshot{}, fmt.Errorf("stats: metrics endpoint returned %s", resp.Status)
	}
	return parseSnapshot(resp.Body, time.Now())
}

// parseSnapshot reads the Prometheus text exposition format. Labeled series
// of the same counter are summed.
func parseSnapshot(r io.Reader, at time.Time) (metricSnapshot, error) {
	snap := metricSnapshot{timestamp: at}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		name, labels, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		switch name {
		case "moderation_ws_connections":
			snap.connections = value
		case "moderation_analyses_total":
			snap.analyses += value
		case "moderation_flags_total":
			snap.flags += value
		case "moderation_rate_limited_total":
			snap.rateLimited = value
		case "moderation_cache_lookups_total":
			if strings.Contains(labels, `result="hit"`) {
				snap.cacheHits = value
			}
		case "moderation_analyze_duration_seconds_sum":
			snap.durationSum = value
		case "moderation_analyze_duration_seconds_count":
			snap.durationCount = value
		case "moderation_overall_toxicity_sum":
			snap.toxicitySum = value
		case "moderation_overall_toxicity_count":
			snap.toxicityCount = value
		}
	}

	return snap, scanner.Err()
}

// parseMetricLine splits `name{labels} value` or `name value` into its
// parts. Returns false if the line cannot be parsed.
func parseMetricLine(line string) (name, labels string, value float64, ok bool) {
	rest := line
	if open := strings.IndexByte(line, '{'); open != -1 {
		closing := strings.LastIndexByte(line, '}')
		if closing < open {
			return "", "", 0, false
		}
		name = line[:open]
		labels = line[open+1 : closing]
		rest = line[closing+1:]
	} else {
		var found bool
		name, rest, found = strings.Cut(line, " ")
		if !found {
			return "", "", 0, false
		}
	}

	fields := strings.Fields(rest)
	if name == "" || len(fields) == 0 {
		return "", "", 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", "", 0, false
	}
	return name, labels, v, true
}

// Report writes a summary of the server-side metrics collected during the
// load test: initial, final, delta and peak for each metric.
func (s *Scraper) Report(w io.Writer) {
	s.mu.Lock()
	snaps := make([]metricSnapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}

	first := snaps[0]
	last := snaps[len(snaps)-1]

	fmt.Fprintln(w, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(w, "  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	type series struct {
		label string
		get   func(metricSnapshot) float64
	}
	all := []series{
		{"WS Connections", func(s metricSnapshot) float64 { return s.connections }},
		{"Analyses", func(s metricSnapshot) float64 { return s.analyses }},
		{"Flags", func(s metricSnapshot) float64 { return s.flags }},
		{"Rate Limited", func(s metricSnapshot) float64 { return s.rateLimited }},
		{"Cache Hits", func(s metricSnapshot) float64 { return s.cacheHits }},
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, m := range all {
		initial, final := m.get(first), m.get(last)
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			m.label, initial, final, final-initial, peakValue(snaps, m.get))
	}

	fmt.Fprintln(w)
	printHistogramAvg(w, "Engine Latency", "s", first.durationSum, first.durationCount,
		last.durationSum, last.durationCount)
	printHistogramAvg(w, "Toxicity", "", first.toxicitySum, first.toxicityCount,
		last.toxicitySum, last.toxicityCount)
}

// printHistogramAvg prints the average computed from histogram _sum/_count
// deltas between the first and last snapshot.
func printHistogramAvg(w io.Writer, label, unit string, sumFirst, countFirst, sumLast, countLast float64) {
	deltaSum := sumLast - sumFirst
	deltaCount := countLast - countFirst
	if deltaCount > 0 {
		fmt.Fprintf(w, "  %-16s avg: %.4f%s  (%.0f observations)\n", label, deltaSum/deltaCount, unit, deltaCount)
	} else {
		fmt.Fprintf(w, "  %-16s avg: N/A  (no observations)\n", label)
	}
}

// peakValue returns the maximum value of the given extractor across all
// snapshots.
func peakValue(snaps []metricSnapshot, extract func(metricSnapshot) float64) float64 {
	peak := math.Inf(-1)
	for _, s := range snaps {
		peak = max(peak, extract(s))
	}
	return peak
}
