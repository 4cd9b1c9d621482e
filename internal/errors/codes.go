package errors

// ErrorCode represents a machine-readable deny/error identifier, returned to
// both HTTP/JSON clients and JSON-RPC callers (via the code mapping below).
type ErrorCode string

// Gate check-sequence deny reasons (Gate §4.2 steps 1-11).
const (
	ErrCodeMissingAPIKey    ErrorCode = "missing_api_key"
	ErrCodeAPIKeyExpired    ErrorCode = "api_key_expired"
	ErrCodeInvalidAPIKey    ErrorCode = "invalid_api_key"
	ErrCodeIPNotAllowed     ErrorCode = "ip_not_allowed"
	ErrCodeToolNotAllowed   ErrorCode = "tool_not_allowed"
	ErrCodeToolDenied       ErrorCode = "tool_denied"
	ErrCodeScopeNotAllowed  ErrorCode = "scope_not_allowed"
	ErrCodeRateLimited      ErrorCode = "rate_limited"
	ErrCodeInsufficientFunds ErrorCode = "insufficient_credits"
	ErrCodeSpendingLimit    ErrorCode = "spending_limit_exceeded"
	ErrCodeQuotaExceeded    ErrorCode = "quota_exceeded"
	ErrCodeTeamBudget       ErrorCode = "team_budget_exceeded"
	ErrCodeBatchRejected    ErrorCode = "batch_rejected"
)

// Reservation errors (§4.6).
const (
	ErrCodeReservationInsufficient ErrorCode = "reservation_insufficient"
	ErrCodeReservationNotFound     ErrorCode = "reservation_not_found"
	ErrCodeReservationNotHeld      ErrorCode = "reservation_not_held"
)

// Concurrency errors (§4.7).
const (
	ErrCodeConcurrencyKeyLimit  ErrorCode = "concurrency_key_limit"
	ErrCodeConcurrencyToolLimit ErrorCode = "concurrency_tool_limit"
)

// Validation errors (request input).
const (
	ErrCodeMissingField ErrorCode = "missing_field"
	ErrCodeInvalidField ErrorCode = "invalid_field"
)

// Resource/state errors.
const (
	ErrCodeKeyNotFound   ErrorCode = "key_not_found"
	ErrCodeKeyExists     ErrorCode = "key_already_exists"
)

// External service / internal errors.
const (
	ErrCodeWebhookDeliveryFailed ErrorCode = "webhook_delivery_failed"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeInternalError         ErrorCode = "internal_error"
	ErrCodeStorageError          ErrorCode = "storage_error"
)

// IsRetryable returns whether an error code represents a retryable condition.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRateLimited, ErrCodeWebhookDeliveryFailed, ErrCodeUpstreamUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeMissingField, ErrCodeInvalidField:
		return 400
	case ErrCodeMissingAPIKey, ErrCodeAPIKeyExpired, ErrCodeInvalidAPIKey:
		return 401
	case ErrCodeIPNotAllowed, ErrCodeToolNotAllowed, ErrCodeToolDenied, ErrCodeScopeNotAllowed:
		return 403
	case ErrCodeKeyNotFound, ErrCodeReservationNotFound:
		return 404
	case ErrCodeKeyExists:
		return 409
	case ErrCodeInsufficientFunds, ErrCodeSpendingLimit, ErrCodeReservationInsufficient:
		return 402
	case ErrCodeRateLimited, ErrCodeQuotaExceeded, ErrCodeTeamBudget,
		ErrCodeConcurrencyKeyLimit, ErrCodeConcurrencyToolLimit:
		return 429
	case ErrCodeUpstreamUnavailable, ErrCodeWebhookDeliveryFailed:
		return 502
	default:
		return 500
	}
}

// JSONRPCCode maps a deny/error reason to the JSON-RPC error code the
// transport is required to return (spec'd transport boundary, §6).
func (e ErrorCode) JSONRPCCode() int {
	switch e {
	case ErrCodeInsufficientFunds, ErrCodeSpendingLimit:
		return -32402
	case ErrCodeRateLimited, ErrCodeQuotaExceeded, ErrCodeTeamBudget,
		ErrCodeConcurrencyKeyLimit, ErrCodeConcurrencyToolLimit:
		return -32001
	case ErrCodeMissingAPIKey, ErrCodeAPIKeyExpired, ErrCodeInvalidAPIKey:
		return -32401
	default:
		return -32603
	}
}
