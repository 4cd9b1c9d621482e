package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/toolmeter/gateway/internal/keystore"
)

func doMCP(h *handlers, body string, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.handleMCP(rec, req)
	return rec
}

func TestHandleMCPInitialize(t *testing.T) {
	h, _ := newTestHandlers()
	rec := doMCP(h, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestHandleMCPToolsCallSuccess(t *testing.T) {
	h, store := newTestHandlers()
	record, err := store.CreateKey("tester", 100, keystore.Options{})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	body := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo"}}`
	rec := doMCP(h, body, record.Key)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected result map, got %T", resp.Result)
	}
	if result["creditsCharged"].(float64) != 2 {
		t.Errorf("expected 2 credits charged, got %v", result["creditsCharged"])
	}
}

func TestHandleMCPToolsCallInsufficientCredits(t *testing.T) {
	h, store := newTestHandlers()
	record, err := store.CreateKey("poor", 1, keystore.Options{})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	body := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo"}}`
	rec := doMCP(h, body, record.Key)

	if rec.Code != http.StatusOK {
		t.Fatalf("JSON-RPC errors still return 200, got %d", rec.Code)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected a JSON-RPC error for insufficient credits")
	}
	if resp.Error.Code != -32402 {
		t.Errorf("expected x402 payment-required code -32402, got %d", resp.Error.Code)
	}
	if resp.Error.Data == nil {
		t.Fatal("expected payment error data block")
	}
}

func TestHandleMCPUnknownMethod(t *testing.T) {
	h, _ := newTestHandlers()
	rec := doMCP(h, `{"jsonrpc":"2.0","id":4,"method":"does/not/exist"}`, "")

	var resp jsonrpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestHandleMCPFreeMethodBypassesGating(t *testing.T) {
	h, _ := newTestHandlers()
	h.cfg.Server.FreeMethods = []string{"ping"}

	rec := doMCP(h, `{"jsonrpc":"2.0","id":5,"method":"ping"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("free method should not be gated: %+v", resp.Error)
	}
}

func TestHandleMCPMalformedJSON(t *testing.T) {
	h, _ := newTestHandlers()
	rec := doMCP(h, `{not valid json`, "")

	var resp jsonrpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestSplitReason(t *testing.T) {
	code, msg := splitReason("insufficient_credits: need 10, have 1")
	if string(code) != "insufficient_credits" {
		t.Errorf("expected code insufficient_credits, got %s", code)
	}
	if msg != "insufficient_credits: need 10, have 1" {
		t.Errorf("expected full reason as message, got %s", msg)
	}
}

func TestParseRequiredCredits(t *testing.T) {
	cases := map[string]int64{
		"insufficient_credits: need 10, have 1": 10,
		"spending_limit_exceeded: limit 5":      0,
		"":                                      0,
	}
	for reason, want := range cases {
		if got := parseRequiredCredits(reason); got != want {
			t.Errorf("parseRequiredCredits(%q) = %d, want %d", reason, got, want)
		}
	}
}
