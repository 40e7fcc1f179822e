// Package moderation provides the text moderation engine. It scans raw text
// into candidate spans, matches them against a versioned category ruleset, and
// aggregates the hits into flags and a single overall toxicity score.
//
// An Engine holds no per-call state. The Ruleset it is built from is immutable
// once loaded, so one Engine may serve any number of goroutines concurrently.
package moderation
