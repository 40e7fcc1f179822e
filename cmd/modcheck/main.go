// Command modcheck analyzes text from the command line, a file or stdin and
// prints the moderation verdict.
//
// With -nats the text is sent to a running moderator worker instead of being
// analyzed in process. -async publishes the request and waits on its result
// subject rather than using a reply inbox.
//
// Exit status is 0 on success, 1 on errors and 2 when the overall toxicity
// exceeds -fail-above.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/analysis"
	"github.com/whisper/moderation/internal/logging"
	"github.com/whisper/moderation/internal/messaging"
	"github.com/whisper/moderation/internal/moderation"
)

const (
	exitOK        = 0
	exitError     = 1
	exitThreshold = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("modcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "Read text from file (\"-\" for stdin)")
	format := fs.String("format", "report", "Output format: json or report")
	rules := fs.String("rules", "", "Ruleset JSON file (embedded rules when empty)")
	failAbove := fs.Float64("fail-above", 1, "Exit with status 2 when overall toxicity exceeds this score")
	maxLength := fs.Int("max-length", moderation.DefaultMaxLength, "Maximum text length in characters")
	contextWidth := fs.Int("context", moderation.DefaultContextWidth, "Characters of context kept around each flag")
	natsURL := fs.String("nats", "", "Send the text to a moderator worker at this NATS URL")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout with -nats")
	async := fs.Bool("async", false, "With -nats, publish the request and wait on its result subject")
	logLevel := fs.String("log-level", "warn", "Log level")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: modcheck [flags] [text...]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	logger := logging.NewWithOutput(stderr, *logLevel, "text")
	log := logging.Component(logger, "modcheck")

	if *format != "json" && *format != "report" {
		log.Errorf("unknown format %q, want json or report", *format)
		return exitError
	}

	text, err := readInput(fs.Args(), *file, stdin)
	if err != nil {
		log.WithError(err).Error("failed to read input")
		return exitError
	}
	if *async && *natsURL == "" {
		log.Error("-async requires -nats")
		return exitError
	}

	var res *moderation.Result
	if *natsURL != "" {
		res, err = analyzeRemote(*natsURL, *timeout, *async, text, logger)
	} else {
		res, err = analyzeLocal(*rules, *maxLength, *contextWidth, text)
	}
	if err != nil {
		log.WithError(err).Error("analysis failed")
		return exitError
	}

	if *format == "json" {
		err = moderation.WriteJSON(stdout, res)
	} else {
		err = moderation.WriteReport(stdout, res)
	}
	if err != nil {
		log.WithError(err).Error("failed to write output")
		return exitError
	}

	if res.OverallToxicity > *failAbove {
		return exitThreshold
	}
	return exitOK
}

func analyzeLocal(rulesPath string, maxLength, contextWidth int, text string) (*moderation.Result, error) {
	ruleset, err := analysis.LoadRules(rulesPath)
	if err != nil {
		return nil, err
	}
	engine := moderation.New(ruleset,
		moderation.WithMaxLength(maxLength),
		moderation.WithContextWidth(contextWidth),
	)
	return engine.Analyze(text)
}

// analyzeRemote asks a moderator worker over NATS, by request/reply or, when
// async is set, by publishing and waiting on the request's result subject.
func analyzeRemote(url string, timeout time.Duration, async bool, text string, logger logrus.FieldLogger) (*moderation.Result, error) {
	cfg := messaging.DefaultNATSConfig()
	cfg.URL = url
	cfg.Name = "modcheck"
	cfg.MaxReconnects = 0
	client, err := messaging.NewNATSClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	requestID := uuid.New().String()
	data, err := json.Marshal(moderation.AnalyzeRequest{RequestID: requestID, Text: text})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var reply []byte
	if async {
		reply, err = client.AwaitResult(ctx, requestID, data)
	} else {
		reply, err = client.RequestAnalyze(ctx, data)
	}
	if err != nil {
		return nil, err
	}

	var resp moderation.AnalyzeResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %s", resp.ErrorCode, resp.Error)
	}
	if resp.Result == nil {
		return nil, errors.New("reply carries no result")
	}
	return resp.Result, nil
}

// readInput picks the text source: positional arguments, then -file, then
// stdin.
func readInput(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case len(args) > 0:
		if file != "" {
			return "", errors.New("pass text as arguments or -file, not both")
		}
		return strings.Join(args, " "), nil
	case file != "" && file != "-":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
