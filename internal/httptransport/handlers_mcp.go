package httptransport

import (
	"net/http"
	"strings"

	"github.com/toolmeter/gateway/internal/errors"
	"github.com/toolmeter/gateway/internal/gate"
	"github.com/toolmeter/gateway/internal/jsonsafe"
)

// jsonrpcRequest is the envelope every /mcp request is decoded into,
// following the same shape the teacher uses for its own JSON-RPC methods.
type jsonrpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Method  string        `json:"method"`
	Params  jsonrpcParams `json:"params,omitempty"`
}

type jsonrpcParams struct {
	Name      string                 `json:"name,omitempty"`      // tools/call
	Arguments map[string]interface{} `json:"arguments,omitempty"` // tools/call
	Calls     []jsonrpcBatchCall     `json:"calls,omitempty"`     // tools/call_batch
}

type jsonrpcBatchCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      interface{}         `json:"id"`
	Result  interface{}         `json:"result,omitempty"`
	Error   *errors.JSONRPCError `json:"error,omitempty"`
}

// handleMCP is the single entry point for every tool invocation: it
// dispatches initialize/tools/list/tools/call/tools/call_batch, or a
// configured free method that bypasses gating entirely.
func (h *handlers) handleMCP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeSimpleError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
		return
	}

	var req jsonrpcRequest
	if err := jsonsafe.Decode(r.Body, &req); err != nil {
		h.sendJSONRPCError(w, nil, -32700, "Parse error", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		h.sendJSONRPCError(w, req.ID, -32600, "Invalid Request: jsonrpc must be \"2.0\"", nil)
		return
	}

	if h.isFreeMethod(req.Method) {
		h.dispatchFree(w, req)
		return
	}

	apiKey := extractAPIKey(r)

	switch req.Method {
	case "initialize":
		h.handleInitialize(w, req)
	case "tools/list":
		h.handleToolsList(w, r, req)
	case "tools/call":
		h.handleToolsCall(w, r, req, apiKey)
	case "tools/call_batch":
		h.handleToolsCallBatch(w, r, req, apiKey)
	default:
		h.sendJSONRPCError(w, req.ID, -32601, "Method not found", nil)
	}
}

// isFreeMethod reports whether method is configured to bypass gating
// entirely (spec.md §6's "free method" concept, e.g. a health probe
// exposed through the JSON-RPC surface itself rather than /health).
func (h *handlers) isFreeMethod(method string) bool {
	for _, free := range h.cfg.Server.FreeMethods {
		if free == method {
			return true
		}
	}
	return false
}

func (h *handlers) dispatchFree(w http.ResponseWriter, req jsonrpcRequest) {
	writeJSON(w, http.StatusOK, jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]interface{}{"ok": true},
	})
}

func (h *handlers) handleInitialize(w http.ResponseWriter, req jsonrpcRequest) {
	writeJSON(w, http.StatusOK, jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": "toolmeter-gateway", "version": "1.0"},
			"capabilities":    map[string]interface{}{"tools": map[string]bool{"listChanged": false}},
		},
	})
}

func (h *handlers) handleToolsList(w http.ResponseWriter, r *http.Request, req jsonrpcRequest) {
	if h.gate.Pricing() == nil {
		writeJSON(w, http.StatusOK, jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{"tools": []interface{}{}}})
		return
	}
	prices, err := h.gate.Pricing().ListPrices(r.Context())
	if err != nil {
		h.sendJSONRPCError(w, req.ID, -32603, "Internal error: failed to list tools", err.Error())
		return
	}
	tools := make([]map[string]interface{}, 0, len(prices))
	for _, p := range prices {
		tools = append(tools, map[string]interface{}{
			"name":            p.Tool,
			"creditsPerCall":  p.CreditsPerCall,
			"rateLimitPerMin": p.RateLimitPerMin,
		})
	}
	writeJSON(w, http.StatusOK, jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{"tools": tools}})
}

func (h *handlers) handleToolsCall(w http.ResponseWriter, r *http.Request, req jsonrpcRequest, apiKey string) {
	tool := req.Params.Name
	if tool == "" {
		h.sendJSONRPCError(w, req.ID, -32602, "Invalid params: name is required", nil)
		return
	}

	acquireResult := h.gate.AcquireConcurrency(apiKey, tool)
	if !acquireResult.Acquired {
		h.denyJSONRPC(w, req.ID, apiKey, acquireResult.Reason)
		return
	}
	defer h.gate.ReleaseConcurrency(apiKey, tool)

	decision := h.gate.Evaluate(r.Context(), apiKey, gate.CallRequest{
		Tool:      tool,
		Args:      req.Params.Arguments,
		ClientIP:  clientIP(r),
		RequestID: requestIDFrom(r),
	})
	if !decision.Allowed {
		h.denyJSONRPC(w, req.ID, apiKey, decision.Reason)
		return
	}

	writeJSON(w, http.StatusOK, jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"creditsCharged":   decision.CreditsCharged,
			"remainingCredits": decision.RemainingCredits,
		},
	})
}

func (h *handlers) handleToolsCallBatch(w http.ResponseWriter, r *http.Request, req jsonrpcRequest, apiKey string) {
	if len(req.Params.Calls) == 0 {
		h.sendJSONRPCError(w, req.ID, -32602, "Invalid params: calls must be non-empty", nil)
		return
	}

	calls := make([]gate.BatchCall, len(req.Params.Calls))
	acquired := make([]bool, len(req.Params.Calls))
	for i, c := range req.Params.Calls {
		calls[i] = gate.BatchCall{Tool: c.Name, Args: c.Arguments}
		result := h.gate.AcquireConcurrency(apiKey, c.Name)
		acquired[i] = result.Acquired
		if !result.Acquired {
			for j := 0; j < i; j++ {
				if acquired[j] {
					h.gate.ReleaseConcurrency(apiKey, calls[j].Tool)
				}
			}
			h.denyJSONRPC(w, req.ID, apiKey, result.Reason)
			return
		}
	}
	defer func() {
		for i, c := range calls {
			if acquired[i] {
				h.gate.ReleaseConcurrency(apiKey, c.Tool)
			}
		}
	}()

	result := h.gate.EvaluateBatch(r.Context(), apiKey, calls, gate.CallRequest{
		ClientIP:  clientIP(r),
		RequestID: requestIDFrom(r),
	})
	if !result.AllAllowed {
		h.denyJSONRPC(w, req.ID, apiKey, result.Decisions[result.FailedIndex].Reason)
		return
	}

	writeJSON(w, http.StatusOK, jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"totalCreditsCharged": result.TotalCreditsCharged,
			"remainingCredits":    result.RemainingCredits,
		},
	})
}

// denyJSONRPC maps a gate deny reason onto a JSON-RPC error, attaching the
// x402 payment data block for payment-related codes (spec.md §6).
func (h *handlers) denyJSONRPC(w http.ResponseWriter, id interface{}, apiKey, reason string) {
	code, message := splitReason(reason)

	var data interface{}
	if code.JSONRPCCode() == -32402 {
		available, _ := h.gate.Store().GetBalance(apiKey)
		required := parseRequiredCredits(reason)
		data = errors.NewPaymentErrorData(required, available, h.cfg.Server.TopUpURL, h.cfg.Server.PricingURL)
	}

	jerr := errors.NewJSONRPCError(code, message, data)
	writeJSON(w, http.StatusOK, jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jerr})
}

// splitReason pulls the leading error code token off a deny reason string
// (the "<code>: detail" convention every gate check emits) and returns the
// matching ErrorCode plus the full reason as the human-readable message.
// The per-tool rate-limit reason folds into rate_limited and the
// quota_<period>_<dimension>_exceeded reasons fold into quota_exceeded, so
// both map to the rate-limit JSON-RPC code.
func splitReason(reason string) (errors.ErrorCode, string) {
	code := reason
	if idx := strings.Index(reason, ":"); idx >= 0 {
		code = reason[:idx]
	}
	switch {
	case code == "tool_rate_limited":
		return errors.ErrCodeRateLimited, reason
	case strings.HasPrefix(code, "quota_") && strings.HasSuffix(code, "_exceeded"):
		return errors.ErrCodeQuotaExceeded, reason
	}
	return errors.ErrorCode(code), reason
}

func (h *handlers) sendJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	writeJSON(w, http.StatusOK, jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &errors.JSONRPCError{Code: code, Message: message, Data: data},
	})
}

// parseRequiredCredits pulls the "need %d" value out of an
// insufficient_credits/spending_limit_exceeded reason string. Returns 0 if
// the reason doesn't carry one (e.g. spending_limit's "limit %d" form).
func parseRequiredCredits(reason string) int64 {
	const marker = "need "
	idx := strings.Index(reason, marker)
	if idx < 0 {
		return 0
	}
	rest := reason[idx+len(marker):]
	if comma := strings.Index(rest, ","); comma >= 0 {
		rest = rest[:comma]
	}
	var n int64
	for _, c := range rest {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		return host[:idx]
	}
	return host
}

func requestIDFrom(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}
