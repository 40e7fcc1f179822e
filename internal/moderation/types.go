package moderation

// AnalyzeRequest is published to moderation.analyze by clients that want a
// text reviewed asynchronously.
type AnalyzeRequest struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Persist   bool   `json:"persist,omitempty"`
}

// AnalyzeResponse is the reply to an AnalyzeRequest. Exactly one of Result
// and Error is set.
type AnalyzeResponse struct {
	RequestID string  `json:"request_id"`
	Result    *Result `json:"result,omitempty"`
	ReportID  string  `json:"report_id,omitempty"`
	Error     string  `json:"error,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
}

// Error codes carried in AnalyzeResponse.ErrorCode and API error bodies.
const (
	CodeTextTooLong = "text_too_long"
	CodeBadRequest  = "bad_request"
	CodeInternal    = "internal"
	CodeRateLimited = "rate_limited"
	CodeNotFound    = "not_found"
)
