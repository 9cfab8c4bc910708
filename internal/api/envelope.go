package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/miradorstack/mirador-authlens/internal/models"
	"github.com/miradorstack/mirador-authlens/internal/utils"
)

// Envelope is the wire shape of every analytics response. Exactly one of Data
// and Error is set.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// BuildEnvelope maps a category outcome to its HTTP status and body. Failures
// are logged with the category and the underlying error.
func BuildEnvelope(logger *slog.Logger, category models.Category, data json.RawMessage, err error) (int, Envelope) {
	if err == nil && (len(data) == 0 || string(data) == "null") {
		err = utils.NewAppError("analytics."+category.String(), "empty result", nil)
	}
	if err != nil {
		msg := utils.PublicMessage(err)
		if msg == "" {
			msg = "internal error"
		}
		logger.Error("analytics category failed", slog.String("category", category.String()), slog.Any("error", err))
		return http.StatusInternalServerError, Envelope{Success: false, Error: msg}
	}
	return http.StatusOK, Envelope{Success: true, Data: data}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
