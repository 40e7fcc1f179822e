package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/whisper/moderation/internal/loadtest/client"
	"github.com/whisper/moderation/internal/loadtest/stats"
)

// sampleTexts is a mixed corpus of clean, spammy, abusive and obfuscated
// messages used when no -corpus file is given.
var sampleTexts = []string{
	"hey, how was your weekend?",
	"the meeting moved to 3pm, see you there",
	"this is shit",
	"you are such an idiot",
	"click here for free bitcoin!!! http://spam.example.com",
	"i'll kill you",
	"f*ck this, you're pathetic",
	"sh1t happens, no big deal",
	"i feel so hopeless lately",
	"CALL NOW 555-123-4567 limited time offer",
	"what a lovely day at the lake",
	"go to hell",
}

// runAnalyze opens N connections and has each send analyze requests back to
// back for the test duration, measuring round-trip latency.
func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	metricsURL := fs.String("metrics", "", "Prometheus metrics URL to scrape (e.g. http://localhost:8080/metrics)")
	connections := fs.Int("connections", 50, "Number of concurrent connections")
	duration := fs.Duration("duration", 30*time.Second, "Test duration")
	rate := fs.Float64("rate", 0, "Requests per second per connection (0 = as fast as possible)")
	corpus := fs.String("corpus", "", "File with one text per line (built-in samples when empty)")
	_ = fs.Parse(args)

	texts := sampleTexts
	if *corpus != "" {
		loaded, err := loadCorpus(*corpus)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load corpus: %v\n", err)
			os.Exit(1)
		}
		texts = loaded
	}

	fmt.Printf("Analyze test: %d connections to %s for %s (%d texts, rate=%.1f/s per conn)\n",
		*connections, *url, *duration, len(texts), *rate)

	ctx, stop := signalContext()
	defer stop()
	collector, done := newCollector(ctx, *metricsURL)
	defer done()

	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := range *connections {
		wg.Add(1)
		go func() {
			defer wg.Done()
			analyzeWorker(runCtx, *url, i, texts, *rate, collector)
		}()
	}

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()
	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	for {
		select {
		case <-progress.C:
			fmt.Printf("  [run] connections: %d  analyses: %d  errors: %d\n",
				collector.ConnectionCount(), collector.AnalysisCount(), collector.ErrorCount())
		case <-doneCh:
			collector.Report(os.Stdout)
			return
		}
	}
}

func analyzeWorker(ctx context.Context, url string, worker int, texts []string, rate float64, collector *stats.Collector) {
	c, err := client.New(ctx, url)
	if err != nil {
		collector.AddError()
		return
	}
	defer c.Close()
	if err := c.WaitReady(ctx); err != nil {
		collector.AddError()
		return
	}
	collector.AddConnect(c.GetMetrics().ConnectLatency)

	var tick <-chan time.Time
	if rate > 0 {
		t := time.NewTicker(time.Duration(float64(time.Second) / rate))
		defer t.Stop()
		tick = t.C
	}

	for i := worker; ; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		}

		start := time.Now()
		res, err := c.Analyze(ctx, texts[i%len(texts)])
		switch {
		case ctx.Err() != nil:
			return
		case err == nil:
			collector.AddResult(time.Since(start), res.Result)
		default:
			var limited *client.RateLimitedError
			if errors.As(err, &limited) {
				collector.AddRateLimited()
				select {
				case <-ctx.Done():
					return
				case <-time.After(limited.RetryAfter):
				}
				continue
			}
			collector.AddError()
			if errors.Is(err, client.ErrClosed) {
				return
			}
		}
	}
}

func loadCorpus(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var texts []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			texts = append(texts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, errors.New("corpus is empty")
	}
	return texts, nil
}
