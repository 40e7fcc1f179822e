package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whisper/moderation/internal/loadtest/client"
	"github.com/whisper/moderation/internal/loadtest/stats"
)

type saturateConfig struct {
	url         string
	connections int
	ramp        time.Duration
	hold        time.Duration
	concurrency int
	keepalive   time.Duration
}

// runSaturate finds how many idle WebSocket sessions the server sustains. It
// opens connections at a steady pace, then holds them and counts drops.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	var cfg saturateConfig
	fs.StringVar(&cfg.url, "url", "ws://localhost:8080/ws", "WebSocket server URL")
	metricsURL := fs.String("metrics", "", "Prometheus metrics URL to scrape (e.g. http://localhost:8080/metrics)")
	fs.IntVar(&cfg.connections, "connections", 1000, "Number of connections to open")
	fs.DurationVar(&cfg.ramp, "ramp", 10*time.Second, "Ramp-up duration")
	fs.DurationVar(&cfg.hold, "hold", 30*time.Second, "Hold duration after all connections are open")
	fs.IntVar(&cfg.concurrency, "concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	fs.DurationVar(&cfg.keepalive, "keepalive", 20*time.Second, "Ping interval while holding (must stay under the server read timeout)")
	_ = fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		cfg.connections, cfg.url, cfg.ramp, cfg.hold, cfg.concurrency)

	ctx, stop := signalContext()
	defer stop()
	collector, done := newCollector(ctx, *metricsURL)
	defer done()

	fmt.Println("\n--- Ramp-up ---")
	start := time.Now()
	clients := openConnections(ctx, cfg, collector)
	fmt.Printf("Ramp-up complete: %d/%d sessions in %s (%d errors)\n",
		len(clients), cfg.connections, time.Since(start).Round(time.Millisecond), collector.ErrorCount())

	dropped := 0
	if ctx.Err() == nil {
		fmt.Println("\n--- Hold ---")
		dropped = holdConnections(ctx, clients, cfg)
	}

	fmt.Printf("\nClosing %d connections\n", len(clients))
	for _, c := range clients {
		_ = c.Close()
	}
	if dropped > 0 {
		fmt.Printf("Connections dropped during hold: %d\n", dropped)
	}
	collector.Report(os.Stdout)
}

// openConnections dials cfg.connections sessions, one every ramp/connections,
// with at most cfg.concurrency handshakes in flight. Only sessions that
// received the ready message are returned.
func openConnections(ctx context.Context, cfg saturateConfig, collector *stats.Collector) []*client.Client {
	var (
		mu      sync.Mutex
		clients = make([]*client.Client, 0, cfg.connections)
	)

	pace := max(cfg.ramp/time.Duration(max(cfg.connections, 1)), time.Millisecond)
	ticker := time.NewTicker(pace)
	defer ticker.Stop()
	progress := time.NewTicker(time.Second)
	defer progress.Stop()

	var g errgroup.Group
	g.SetLimit(max(cfg.concurrency, 1))

	for launched := 0; launched < cfg.connections; {
		select {
		case <-ctx.Done():
			fmt.Println("Interrupted during ramp-up.")
			_ = g.Wait()
			return clients
		case <-progress.C:
			fmt.Printf("  [ramp] sessions: %d/%d  errors: %d\n",
				collector.ConnectionCount(), cfg.connections, collector.ErrorCount())
			continue
		case <-ticker.C:
		}
		launched++

		g.Go(func() error {
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(dialCtx, cfg.url)
			if err != nil {
				collector.AddError()
				return nil
			}
			if err := c.WaitReady(dialCtx); err != nil {
				collector.AddError()
				_ = c.Close()
				return nil
			}
			collector.AddConnect(c.GetMetrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return clients
}

// holdConnections keeps the sessions open for cfg.hold, pinging each one so
// the server's read deadline does not expire, and returns how many died.
func holdConnections(ctx context.Context, clients []*client.Client, cfg saturateConfig) int {
	initial := len(clients)
	fmt.Printf("Holding %d sessions for %s\n", initial, cfg.hold)

	deadline := time.NewTimer(cfg.hold)
	defer deadline.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()
	keepalive := time.NewTicker(max(cfg.keepalive, time.Second))
	defer keepalive.Stop()

	alive := func() int {
		n := 0
		for _, c := range clients {
			if c.Alive() {
				n++
			}
		}
		return n
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Interrupted during hold.")
			return initial - alive()
		case <-deadline.C:
			return initial - alive()
		case <-keepalive.C:
			for _, c := range clients {
				if c.Alive() {
					_ = c.Ping()
				}
			}
		case <-status.C:
			n := alive()
			fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", n, initial, initial-n)
		}
	}
}
