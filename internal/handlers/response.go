package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/jwt"
)

// ErrorResponse is the body of every failed request.
// swagger:model ErrorResponse
type ErrorResponse struct {
	// Error message
	// default: insufficient funds
	Error string `json:"error"`

	// Machine readable error class
	// default: insufficient_funds
	Kind string `json:"kind,omitempty"`
}

var errUnauthorized = errors.New("unauthorized")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its HTTP status. Internal failures are not
// exposed to clients.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	msg := err.Error()
	switch {
	case errors.Is(err, errUnauthorized):
		status, kind = http.StatusUnauthorized, ""
	case status == http.StatusInternalServerError:
		msg = "Internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: string(kind)})
}

// ownerFromRequest returns the owner authenticated by AuthMiddleware.
func ownerFromRequest(r *http.Request) (uuid.UUID, error) {
	ownerID, ok := jwt.OwnerFromContext(r.Context())
	if !ok {
		return uuid.Nil, errUnauthorized
	}
	return ownerID, nil
}
