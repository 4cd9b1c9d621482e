package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/toolmeter/gateway/pkg/responders"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	responders.JSON(w, status, payload)
}

// simpleErrorBody mirrors internal/errors.ErrorResponse's shape for the
// handful of transport-level failures (bad admin key, disabled surface)
// that precede any gate/errors.ErrorCode classification.
type simpleErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeSimpleError(w http.ResponseWriter, status int, code, message string) {
	body := simpleErrorBody{}
	body.Error.Code = code
	body.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
