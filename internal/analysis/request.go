package analysis

import (
	"context"
	"errors"

	"github.com/whisper/moderation/internal/moderation"
)

// HandleRequest answers a queued AnalyzeRequest. It never fails; problems are
// reported in the response's Error and ErrorCode fields.
func (s *Service) HandleRequest(ctx context.Context, req moderation.AnalyzeRequest) moderation.AnalyzeResponse {
	resp := moderation.AnalyzeResponse{RequestID: req.RequestID}

	res, err := s.Analyze(ctx, req.Text)
	if err != nil {
		var tooLong *moderation.TextTooLongError
		if errors.As(err, &tooLong) {
			resp.Error, resp.ErrorCode = tooLong.Error(), moderation.CodeTextTooLong
		} else {
			resp.Error, resp.ErrorCode = "analysis failed", moderation.CodeInternal
		}
		return resp
	}
	resp.Result = res

	if req.Persist {
		if !s.PersistenceEnabled() {
			s.log.WithField("request_id", req.RequestID).Warn("persist requested but persistence is disabled")
			return resp
		}
		id, err := s.Persist(ctx, res)
		if err != nil {
			// The verdict is still valid; only the report is missing.
			s.log.WithError(err).WithField("request_id", req.RequestID).Error("persist failed")
			return resp
		}
		resp.ReportID = id.String()
	}
	return resp
}
