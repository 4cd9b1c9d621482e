package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolmeter/gateway/internal/errors"
	"github.com/toolmeter/gateway/internal/jsonsafe"
	"github.com/toolmeter/gateway/internal/reservation"
)

type createReservationRequest struct {
	Key        string `json:"key"`
	Credits    int64  `json:"credits"`
	TTLSeconds int64  `json:"ttlSeconds,omitempty"`
	Memo       string `json:"memo,omitempty"`
}

// createReservation holds credits against a key without charging them.
// POST /admin/reservations
func (h *handlers) createReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := jsonsafe.Decode(r.Body, &req); err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed JSON body")
		return
	}
	if req.Key == "" || req.Credits <= 0 {
		errors.WriteSimpleError(w, errors.ErrCodeMissingField, "key and credits (> 0) are required")
		return
	}

	ttl := reservation.DefaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	r2, err := h.gate.Reservations().Reserve(req.Key, req.Credits, ttl, req.Memo)
	if err != nil {
		errors.WriteError(w, errors.ErrCodeReservationInsufficient, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, r2)
}

// getReservation returns a reservation by ID. GET /admin/reservations/{id}
func (h *handlers) getReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok := h.gate.Reservations().Get(id)
	if !ok {
		errors.WriteSimpleError(w, errors.ErrCodeReservationNotFound, "reservation not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type settleReservationRequest struct {
	ActualAmount *int64 `json:"actualAmount,omitempty"`
}

// settleReservation charges some or all of a held reservation.
// POST /admin/reservations/{id}/settle
func (h *handlers) settleReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req settleReservationRequest
	if r.ContentLength != 0 {
		if err := jsonsafe.Decode(r.Body, &req); err != nil {
			errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed JSON body")
			return
		}
	}

	res, err := h.gate.Reservations().Settle(id, req.ActualAmount)
	if err != nil {
		h.writeReservationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// releaseReservation frees a held reservation untouched.
// POST /admin/reservations/{id}/release
func (h *handlers) releaseReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.gate.Reservations().Release(id)
	if err != nil {
		h.writeReservationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// reservationStats summarizes reservation counts by status.
// GET /admin/reservations/stats
func (h *handlers) reservationStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Reservations().Stats())
}

func (h *handlers) writeReservationError(w http.ResponseWriter, err error) {
	switch err {
	case reservation.ErrNotFound:
		errors.WriteSimpleError(w, errors.ErrCodeReservationNotFound, err.Error())
	case reservation.ErrNotHeld:
		errors.WriteSimpleError(w, errors.ErrCodeReservationNotHeld, err.Error())
	default:
		errors.WriteError(w, errors.ErrCodeInternalError, "reservation operation failed", map[string]interface{}{"error": err.Error()})
	}
}
