package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/toolmeter/gateway/internal/keystore"
)

func withURLParam(req *http.Request, name, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateKeyAndGetKey(t *testing.T) {
	h, _ := newTestHandlers()

	body := `{"name":"alice","credits":50}`
	req := httptest.NewRequest(http.MethodPost, "/admin/keys", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.createKey(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var record map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	key, _ := record["key"].(string)
	if key == "" {
		t.Fatal("expected a generated key string")
	}

	getReq := withURLParam(httptest.NewRequest(http.MethodGet, "/admin/keys/"+key, nil), "key", key)
	getRec := httptest.NewRecorder()
	h.getKey(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}
}

func TestCreateKeyMissingName(t *testing.T) {
	h, _ := newTestHandlers()
	req := httptest.NewRequest(http.MethodPost, "/admin/keys", bytes.NewBufferString(`{"credits":10}`))
	rec := httptest.NewRecorder()
	h.createKey(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetKeyNotFound(t *testing.T) {
	h, _ := newTestHandlers()
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/admin/keys/nope", nil), "key", "nope")
	rec := httptest.NewRecorder()
	h.getKey(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAddCredits(t *testing.T) {
	h, store := newTestHandlers()
	record, err := store.CreateKey("bob", 10, keystore.Options{})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/admin/keys/"+record.Key+"/credits", bytes.NewBufferString(`{"amount":25}`)), "key", record.Key)
	rec := httptest.NewRecorder()
	h.addCredits(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["remainingCredits"] != 35 {
		t.Errorf("expected 35 remaining credits, got %d", resp["remainingCredits"])
	}
}

func TestSuspendAndUnsuspendKey(t *testing.T) {
	h, store := newTestHandlers()
	record, err := store.CreateKey("carol", 10, keystore.Options{})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/admin/keys/"+record.Key+"/suspend", nil), "key", record.Key)
	rec := httptest.NewRecorder()
	h.suspendKey(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	got := store.Lookup(record.Key)
	if got == nil || !got.Suspended {
		t.Fatal("expected key to be suspended")
	}

	req2 := withURLParam(httptest.NewRequest(http.MethodPost, "/admin/keys/"+record.Key+"/unsuspend", nil), "key", record.Key)
	rec2 := httptest.NewRecorder()
	h.unsuspendKey(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}
}
