package moderation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// WriteJSON writes res as indented JSON with the keys text, flags and
// overallToxicity.
func WriteJSON(w io.Writer, res *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("moderation: write json: %w", err)
	}
	return nil
}

// WriteReport writes a plain-text moderation report for human review.
func WriteReport(w io.Writer, res *Result) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "Content Moderation Report")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "Analyzed Text:")
	fmt.Fprintln(bw, res.Text)
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "Detected Issues:")
	if len(res.Flags) == 0 {
		fmt.Fprintln(bw, "  none")
	}
	for _, f := range res.Flags {
		fmt.Fprintf(bw, "  %s: %s (%d%% confidence)\n", f.Type, f.Reason, percent(f.Confidence))
		fmt.Fprintf(bw, "    word: %q\n", f.Word)
		if f.Context != "" {
			fmt.Fprintf(bw, "    context: %q\n", f.Context)
		}
	}
	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "Overall Toxicity: %d%% (%s)\n", percent(res.OverallToxicity), res.Risk().Label())
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("moderation: write report: %w", err)
	}
	return nil
}

func percent(x float64) int {
	return int(math.Round(x * 100))
}
