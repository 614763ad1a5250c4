package types

import (
	"errors"
	"fmt"
)

// Error codes surfaced to API callers. The HTTP layer maps these onto
// status codes; workers record them in job results.
const (
	CodeInvalidInput     = "invalid_input"
	CodeMissingReason    = "missing_reason"
	CodeVersionConflict  = "version_conflict"
	CodePinnedForce      = "pinned_requires_force"
	CodeRetentionExpired = "retention_expired"
	CodeRequiresConfirm  = "batch_threshold_requires_confirm"
	CodeConfirmInvalid   = "batch_confirm_invalid"
	CodeNotFound         = "not_found"
	CodeRateLimited      = "rate_limited"
)

// CodedError is a client-visible failure with a stable code and optional
// structured detail (current version, confirm token, retry hints).
type CodedError struct {
	Code    string
	Message string
	Detail  map[string]interface{}
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrNotFound is returned when an id does not resolve to a live row.
var ErrNotFound = &CodedError{Code: CodeNotFound, Message: "not found"}

// NewInvalidInput reports malformed caller input.
func NewInvalidInput(format string, args ...interface{}) *CodedError {
	return &CodedError{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NewMissingReason reports a mutation attempted without a reason.
func NewMissingReason(op string) *CodedError {
	return &CodedError{Code: CodeMissingReason, Message: fmt.Sprintf("%s requires a reason", op)}
}

// NewVersionConflict reports an optimistic concurrency failure and carries
// the current version so the caller can retry correctly.
func NewVersionConflict(current int) *CodedError {
	return &CodedError{
		Code:    CodeVersionConflict,
		Message: fmt.Sprintf("version conflict: current version is %d", current),
		Detail:  map[string]interface{}{"currentVersion": current},
	}
}

// NewPinnedRequiresForce reports a soft delete attempted on a pinned memory.
func NewPinnedRequiresForce(id string) *CodedError {
	return &CodedError{
		Code:    CodePinnedForce,
		Message: fmt.Sprintf("memory %s is pinned; pass force to delete", id),
	}
}

// NewRetentionExpired reports a recover attempted outside the tombstone
// retention window.
func NewRetentionExpired(id string) *CodedError {
	return &CodedError{
		Code:    CodeRetentionExpired,
		Message: fmt.Sprintf("memory %s is past the recovery window", id),
	}
}

// NewRequiresConfirm reports a batch forget over the confirm threshold.
func NewRequiresConfirm(count int, token string) *CodedError {
	return &CodedError{
		Code:    CodeRequiresConfirm,
		Message: fmt.Sprintf("forgetting %d memories requires a confirm token", count),
		Detail:  map[string]interface{}{"count": count, "confirmToken": token, "requiresConfirm": true},
	}
}

// NewConfirmInvalid reports a stale or mismatched batch confirm token.
func NewConfirmInvalid() *CodedError {
	return &CodedError{Code: CodeConfirmInvalid, Message: "confirm token is invalid or expired"}
}

// NewRateLimited reports a sliding-window limit rejection.
func NewRateLimited(op string, retryAfterSeconds int) *CodedError {
	return &CodedError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("rate limit exceeded for %s", op),
		Detail:  map[string]interface{}{"retryAfterSeconds": retryAfterSeconds},
	}
}

// ErrorCode extracts the stable code from err, or "" when err is not coded.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
