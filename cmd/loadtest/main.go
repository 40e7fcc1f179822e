// Command loadtest drives a moderation server over WebSocket.
//
// Usage:
//
//	loadtest saturate [flags]   open N idle sessions and count drops
//	loadtest analyze [flags]    N sessions sending analyze requests
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/moderation/internal/loadtest/stats"
)

var commands = map[string]struct {
	run   func(args []string)
	usage string
}{
	"saturate": {runSaturate, "Connection saturation test, opens N idle sessions"},
	"analyze":  {runAnalyze, "Throughput test, N sessions each sending analyze requests"},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}
	cmd.run(os.Args[2:])
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, name := range []string{"saturate", "analyze"} {
		fmt.Printf("  %-10s  %s\n", name, commands[name].usage)
	}
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newCollector returns a collector that also scrapes metricsURL, if set. The
// returned func stops the scraper.
func newCollector(ctx context.Context, metricsURL string) (*stats.Collector, func()) {
	collector := stats.NewCollector()
	if metricsURL == "" {
		return collector, func() {}
	}
	scraper := stats.NewScraper(metricsURL, 2*time.Second)
	scraper.Start(ctx)
	collector.SetScraper(scraper)
	return collector, scraper.Stop
}
