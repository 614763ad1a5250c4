package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/signetai/signetd/internal/analytics"
	"github.com/signetai/signetd/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// statusForCode maps stable error codes onto HTTP statuses. Anything not in
// the table is an internal error.
func statusForCode(code string) (int, bool) {
	switch code {
	case types.CodeNotFound:
		return http.StatusNotFound, true
	case types.CodeInvalidInput, types.CodeMissingReason,
		types.CodeRequiresConfirm, types.CodeConfirmInvalid:
		return http.StatusBadRequest, true
	case types.CodeVersionConflict, types.CodePinnedForce, types.CodeRetentionExpired:
		return http.StatusConflict, true
	case types.CodeRateLimited:
		return http.StatusTooManyRequests, true
	}
	return 0, false
}

// fail renders err. Coded errors become their mapped status with the code
// and detail inlined into the body; everything else is a 500 plus an
// error-ring entry so the timeline can reconstruct it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, stage, memoryID string) {
	var coded *types.CodedError
	if errors.As(err, &coded) {
		status, ok := statusForCode(coded.Code)
		if ok {
			body := map[string]any{
				"error": coded.Message,
				"code":  coded.Code,
			}
			for k, v := range coded.Detail {
				body[k] = v
			}
			if coded.Code == types.CodeRateLimited {
				if secs, ok := coded.Detail["retryAfterSeconds"].(int); ok {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
			}
			writeJSON(w, status, body)
			return
		}
	}

	requestID := requestIDFrom(r)
	s.collector.RecordError(analytics.ErrorEntry{
		Stage:     stage,
		Code:      "internal",
		Message:   err.Error(),
		RequestID: requestID,
		MemoryID:  memoryID,
		Actor:     actorFrom(r),
	})
	s.log.Error("request failed",
		"method", r.Method, "path", r.URL.Path,
		"request_id", requestID, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":     "internal error",
		"requestId": requestID,
	})
}

// decode parses a JSON request body into v, mapping malformed bodies onto
// invalid_input.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return types.NewInvalidInput("malformed JSON body: %v", err)
	}
	return nil
}
