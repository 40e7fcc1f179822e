package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/moderation/internal/moderation"
)

func runCheck(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_ReportFromArgs(t *testing.T) {
	code, out, _ := runCheck(t, "", "this", "is", "shit")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Content Moderation Report")
	assert.Contains(t, out, "this is shit")
	assert.Contains(t, out, "profanity: Detected explicit profanity")
	assert.Contains(t, out, "Overall Toxicity: 63% (Medium Risk)")
}

func TestRun_JSONFromStdin(t *testing.T) {
	code, out, _ := runCheck(t, "hello there", "-format", "json")
	require.Equal(t, exitOK, code)

	var res moderation.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "hello there", res.Text)
	assert.Empty(t, res.Flags)
	assert.Zero(t, res.OverallToxicity)
}

func TestRun_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.txt")
	require.NoError(t, os.WriteFile(path, []byte("i'll kill you"), 0o600))

	code, out, _ := runCheck(t, "", "-file", path, "-format", "json")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, `"type": "threat"`)
}

func TestRun_FailAbove(t *testing.T) {
	code, _, _ := runCheck(t, "", "-fail-above", "0.5", "i'll", "kill", "you")
	assert.Equal(t, exitThreshold, code)

	code, _, _ = runCheck(t, "", "-fail-above", "0.5", "lovely", "weather")
	assert.Equal(t, exitOK, code)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad format", []string{"-format", "pdf", "hi"}},
		{"bad flag", []string{"-nope"}},
		{"missing file", []string{"-file", filepath.Join(t.TempDir(), "missing.txt")}},
		{"file and args", []string{"-file", "x.txt", "hi"}},
		{"missing rules", []string{"-rules", filepath.Join(t.TempDir(), "rules.json"), "hi"}},
		{"too long", []string{"-max-length", "3", "hello"}},
		{"async without nats", []string{"-async", "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCheck(t, "", tt.args...)
			assert.Equal(t, exitError, code)
		})
	}
}

func TestRun_Help(t *testing.T) {
	code, _, stderr := runCheck(t, "", "-h")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stderr, "Usage: modcheck")
}

func TestRun_RemoteUnreachable(t *testing.T) {
	code, out, errOut := runCheck(t, "", "-nats", "nats://127.0.0.1:1", "-timeout", "500ms", "hello")
	assert.Equal(t, exitError, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "analysis failed")
}

func TestRun_AsyncRemoteUnreachable(t *testing.T) {
	code, out, errOut := runCheck(t, "", "-nats", "nats://127.0.0.1:1", "-async", "-timeout", "500ms", "hello")
	assert.Equal(t, exitError, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "analysis failed")
}
