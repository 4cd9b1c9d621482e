package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolmeter/gateway/internal/errors"
	"github.com/toolmeter/gateway/internal/jsonsafe"
	"github.com/toolmeter/gateway/internal/keystore"
)

// createKeyRequest is the admin request body for POST /admin/keys.
type createKeyRequest struct {
	Name          string                    `json:"name"`
	Credits       int64                     `json:"credits"`
	SpendingLimit int64                     `json:"spendingLimit,omitempty"`
	AllowedTools  []string                  `json:"allowedTools,omitempty"`
	DeniedTools   []string                  `json:"deniedTools,omitempty"`
	IPAllowlist   []string                  `json:"ipAllowlist,omitempty"`
	Tags          map[string]string         `json:"tags,omitempty"`
	Namespace     string                    `json:"namespace,omitempty"`
	Quota         keystore.QuotaLimits      `json:"quota,omitempty"`
	AutoTopup     *keystore.AutoTopupConfig `json:"autoTopup,omitempty"`
	ExpiresInSec  int64                     `json:"expiresInSeconds,omitempty"`
}

// createKey creates a new API key. POST /admin/keys
func (h *handlers) createKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := jsonsafe.Decode(r.Body, &req); err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed JSON body")
		return
	}
	if req.Name == "" {
		errors.WriteSimpleError(w, errors.ErrCodeMissingField, "name is required")
		return
	}

	opts := keystore.Options{
		SpendingLimit: jsonsafe.ClampInt64(req.SpendingLimit, keystore.MaxCredits),
		AllowedTools:  req.AllowedTools,
		DeniedTools:   req.DeniedTools,
		IPAllowlist:   req.IPAllowlist,
		Tags:          req.Tags,
		Namespace:     req.Namespace,
		Quota:         req.Quota,
		AutoTopup:     req.AutoTopup,
	}
	if req.ExpiresInSec > 0 {
		expires := time.Now().Add(time.Duration(req.ExpiresInSec) * time.Second)
		opts.ExpiresAt = &expires
	}

	record, err := h.gate.Store().CreateKey(req.Name, jsonsafe.ClampInt64(req.Credits, keystore.MaxCredits), opts)
	if err != nil {
		errors.WriteError(w, errors.ErrCodeInternalError, "failed to create key", map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// listKeys returns every tracked key. GET /admin/keys
func (h *handlers) listKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": h.gate.Store().Snapshot()})
}

// getKey returns one key's record. GET /admin/keys/{key}
func (h *handlers) getKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	record := h.gate.Store().GetKey(key)
	if record == nil {
		errors.WriteSimpleError(w, errors.ErrCodeKeyNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// revokeKey permanently deactivates a key. POST /admin/keys/{key}/revoke
func (h *handlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.gate.Store().RevokeKey(key); err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeKeyNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// suspendKey temporarily blocks a key without revoking it.
// POST /admin/keys/{key}/suspend
func (h *handlers) suspendKey(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, true)
}

// unsuspendKey lifts a prior suspension. POST /admin/keys/{key}/unsuspend
func (h *handlers) unsuspendKey(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, false)
}

func (h *handlers) setSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	key := chi.URLParam(r, "key")
	if err := h.gate.Store().SetSuspended(key, suspended); err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeKeyNotFound, "key not found")
		return
	}
	status := "unsuspended"
	if suspended {
		status = "suspended"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type addCreditsRequest struct {
	Amount int64 `json:"amount"`
}

// addCredits tops up a key's balance. POST /admin/keys/{key}/credits
func (h *handlers) addCredits(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req addCreditsRequest
	if err := jsonsafe.Decode(r.Body, &req); err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed JSON body")
		return
	}
	if req.Amount <= 0 {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "amount must be > 0")
		return
	}

	remaining, err := h.gate.Store().AddCredits(key, jsonsafe.ClampInt64(req.Amount, keystore.MaxCredits))
	if err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeKeyNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"remainingCredits": remaining})
}
