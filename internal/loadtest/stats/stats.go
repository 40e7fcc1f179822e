// Package stats provides a goroutine-safe metrics collector that aggregates
// performance data from multiple load test clients and prints a summary report
// with percentile distributions.
package stats

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/whisper/moderation/internal/moderation"
)

// Collector aggregates metrics from multiple load test clients. All methods
// are goroutine-safe and can be called concurrently from many client
// goroutines.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	analyzeLatencies []time.Duration
	errors           int
	rateLimited      int
	connections      int
	analyses         int
	flagged          int
	toxicitySum      float64
	flagsByCategory  map[moderation.Category]int
	startTime        time.Time
	scraper          *Scraper
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		startTime:       time.Now(),
		flagsByCategory: make(map[moderation.Category]int),
	}
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When set,
// Report will also print server-side metrics collected by the scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records a successful connection with the given connect latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddResult records one completed analysis and its round-trip latency.
func (c *Collector) AddResult(d time.Duration, res *moderation.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyzeLatencies = append(c.analyzeLatencies, d)
	c.analyses++
	if res == nil {
		return
	}
	c.toxicitySum += res.OverallToxicity
	if len(res.Flags) > 0 {
		c.flagged++
	}
	for _, f := range res.Flags {
		c.flagsByCategory[f.Type]++
	}
}

// AddRateLimited counts a request the server throttled.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the current number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// AnalysisCount returns the number of completed analyses.
func (c *Collector) AnalysisCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analyses
}

// ErrorCount returns the current number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report writes a formatted summary of the collected metrics to w, including
// total duration, counts, throughput and latency percentiles.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "Connections:  %d\n", c.connections)
	fmt.Fprintf(w, "Analyses:     %d\n", c.analyses)
	fmt.Fprintf(w, "Rate limited: %d\n", c.rateLimited)
	fmt.Fprintf(w, "Errors:       %d\n", c.errors)

	if attempts := c.analyses + c.errors + c.rateLimited; attempts > 0 {
		fmt.Fprintf(w, "Error rate:   %.2f%%\n", float64(c.errors)/float64(attempts)*100)
	}
	if c.analyses > 0 {
		fmt.Fprintf(w, "Throughput:   %.1f analyses/s\n", float64(c.analyses)/elapsed.Seconds())
		fmt.Fprintf(w, "Flagged:      %d (%.1f%%)\n", c.flagged, float64(c.flagged)/float64(c.analyses)*100)
		fmt.Fprintf(w, "Avg toxicity: %.3f\n", c.toxicitySum/float64(c.analyses))
	}

	if len(c.flagsByCategory) > 0 {
		fmt.Fprintln(w, "\n--- Flags by Category ---")
		for _, cat := range moderation.Categories() {
			if n := c.flagsByCategory[cat]; n > 0 {
				fmt.Fprintf(w, "  %-18s %d\n", cat, n)
			}
		}
	}

	if len(c.connectLatencies) > 0 {
		fmt.Fprintln(w, "\n--- Connect Latency ---")
		printPercentiles(w, c.connectLatencies)
	}

	if len(c.analyzeLatencies) > 0 {
		fmt.Fprintln(w, "\n--- Analyze Latency ---")
		printPercentiles(w, c.analyzeLatencies)
	}

	if c.scraper != nil {
		c.scraper.Report(w)
	}

	fmt.Fprintln(w)
}

// Percentiles summarizes a latency sample.
type Percentiles struct {
	Avg, P50, P95, P99, Max time.Duration
	N                       int
}

// ComputePercentiles sorts durations in place and summarizes them. It returns
// the zero value for an empty sample.
func ComputePercentiles(durations []time.Duration) Percentiles {
	n := len(durations)
	if n == 0 {
		return Percentiles{}
	}
	slices.Sort(durations)

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Percentiles{
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
		N:   n,
	}
}

func printPercentiles(w io.Writer, durations []time.Duration) {
	p := ComputePercentiles(durations)
	fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		p.Avg.Round(time.Microsecond),
		p.P50.Round(time.Microsecond),
		p.P95.Round(time.Microsecond),
		p.P99.Round(time.Microsecond),
		p.Max.Round(time.Microsecond),
		p.N,
	)
}
