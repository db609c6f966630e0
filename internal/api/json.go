package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/starford/compendium/internal/apperr"
)

const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error   string         `json:"error" validate:"required"`
	Code    apperr.Kind    `json:"code" validate:"required"`
	Details map[string]any `json:"details,omitempty"`
}

func errorBody(kind apperr.Kind, msg string) errResponse {
	return errResponse{Error: msg, Code: kind}
}

// writeError maps err to its kind's status. Internal errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	body := errResponse{Code: kind, Error: err.Error()}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Error = ae.Message
		body.Details = ae.Metadata
	}
	switch kind {
	case apperr.KindInternal:
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		body.Error = "internal error"
	case apperr.KindNotFound:
		if ae == nil {
			body.Error = "not found"
		}
	case apperr.KindAlreadyExists:
		if errors.Is(err, apperr.ErrConflict) {
			body.Error = "card was modified, reload and retry"
		}
	}
	writeJSON(w, kind.HTTPStatus(), body)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return apperr.InvalidArgument("invalid JSON body")
	}
	return nil
}
