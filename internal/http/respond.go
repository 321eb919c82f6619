package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/example/parcel-matching/internal/lifecycle"
	"github.com/example/parcel-matching/internal/messaging"
	"github.com/example/parcel-matching/internal/rating"
	"github.com/example/parcel-matching/internal/storage"
)

func newID() string {
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "invalid_request", msg)
}

// fail maps domain errors onto HTTP status codes. Conflicts carry a stable
// machine-readable code so clients can branch without parsing messages.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var partial *lifecycle.PartialMatchError
	if errors.As(err, &partial) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"code":      "match_partial",
			"error":     partial.Error(),
			"match_id":  partial.MatchID,
			"last_step": partial.LastStep.String(),
		})
		return
	}

	var lve *lifecycle.ValidationError
	var rve *rating.ValidationError
	switch {
	case errors.As(err, &lve):
		badRequest(w, lve.Msg)
	case errors.As(err, &rve):
		badRequest(w, rve.Msg)
	case errors.Is(err, messaging.ErrUnknownKind):
		badRequest(w, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, messaging.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, lifecycle.ErrAlreadyMatched):
		writeError(w, http.StatusConflict, "already_matched", err.Error())
	case errors.Is(err, lifecycle.ErrTripFull):
		writeError(w, http.StatusConflict, "trip_full", err.Error())
	case errors.Is(err, lifecycle.ErrSelfMatch):
		writeError(w, http.StatusConflict, "self_match", err.Error())
	case errors.Is(err, rating.ErrDuplicateReview):
		writeError(w, http.StatusConflict, "duplicate_review", err.Error())
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		args := []any{"method", r.Method, "path", r.URL.Path, "error", err}
		if rid := requestIDFromContext(r.Context()); rid != "" {
			args = append(args, "request_id", rid)
		}
		s.logger.Error("request failed", args...)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
