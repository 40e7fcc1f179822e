// Package protocol defines the JSON messages exchanged on the moderation
// WebSocket. Every message is an object whose "type" field selects its shape.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/whisper/moderation/internal/moderation"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAnalyze = "analyze"
	TypePing    = "ping"
)

// Server -> Client message types.
const (
	TypeReady       = "ready"
	TypeResult      = "result"
	TypeRateLimited = "rate_limited"
	TypeError       = "error"
	TypePong        = "pong"
)

// Error codes carried in ErrorMsg.
const (
	CodeInvalidMessage = "invalid_message"
	CodeTextTooLong    = moderation.CodeTextTooLong
	CodeInternal       = moderation.CodeInternal
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope is a message whose type is known and whose body is not decoded yet.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps a copy of data and reads only "type", which must be set.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AnalyzeMsg asks the server to analyze Text. ID is echoed in the reply so
// clients can pipeline requests.
type AnalyzeMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PingMsg is an application-level keepalive, answered with PongMsg.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ReadyMsg is sent once after the upgrade completes.
type ReadyMsg struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	RulesetVersion string `json:"ruleset_version"`
	MaxLength      int    `json:"max_length"`
}

// ResultMsg carries the verdict for one AnalyzeMsg.
type ResultMsg struct {
	Type   string             `json:"type"`
	ID     string             `json:"id"`
	Result *moderation.Result `json:"result"`
}

// RateLimitedMsg rejects an AnalyzeMsg. RetryAfter is in whole seconds.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg reports a failed request. ID is empty when the request could not
// be parsed.
type ErrorMsg struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage decodes a client frame into AnalyzeMsg or PingMsg. The
// type is returned even when decoding fails, if it could be read.
func ParseClientMessage(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg any
		err error
	)

	switch env.Type {
	case TypeAnalyze:
		var m AnalyzeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage encodes payload with its "type" field forced to msgType, so
// callers can leave Type unset.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
