package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized HTTP error format returned to admin clients.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code, message, and optional context.
type ErrorDetail struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse creates a standardized error response.
func NewErrorResponse(code ErrorCode, message string, details map[string]interface{}) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: code.IsRetryable(),
			Details:   details,
		},
	}
}

// WriteJSON writes the error response as JSON to the HTTP response writer.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	status := e.Error.Code.HTTPStatus()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}

// WriteError is a convenience function to write an error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]interface{}) {
	NewErrorResponse(code, message, details).WriteJSON(w)
}

// WriteSimpleError writes an error with no additional details.
func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	WriteError(w, code, message, nil)
}

// PaymentErrorData is the x402-style block attached to JSON-RPC -32402 (payment
// required) responses, per the transport boundary spec'd in §6.
type PaymentErrorData struct {
	Version          string   `json:"version"`
	Scheme           string   `json:"scheme"`
	CreditsRequired  int64    `json:"creditsRequired"`
	CreditsAvailable int64    `json:"creditsAvailable"`
	TopUpURL         string   `json:"topUpUrl,omitempty"`
	PricingURL       string   `json:"pricingUrl,omitempty"`
	Accepts          []string `json:"accepts"`
}

// NewPaymentErrorData builds the x402-style payment error data block.
func NewPaymentErrorData(required, available int64, topUpURL, pricingURL string) PaymentErrorData {
	return PaymentErrorData{
		Version:          "1",
		Scheme:           "credits",
		CreditsRequired:  required,
		CreditsAvailable: available,
		TopUpURL:         topUpURL,
		PricingURL:       pricingURL,
		Accepts:          []string{"X-API-Key", "Bearer"},
	}
}

// JSONRPCError is the standard JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewJSONRPCError maps a deny/error code and message to a JSON-RPC error
// object, attaching data exactly as the caller supplies it (the x402
// payment data block for payment-related codes is built by the caller).
func NewJSONRPCError(code ErrorCode, message string, data interface{}) JSONRPCError {
	return JSONRPCError{
		Code:    code.JSONRPCCode(),
		Message: message,
		Data:    data,
	}
}
