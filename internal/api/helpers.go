package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

// writeJSON encodes v before committing the status code, so a value that
// cannot be represented in JSON becomes a 500 error response.
func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
		writeErrorResponse(w, r, http.StatusInternalServerError,
			NewErrorResponse(ErrCodeEncodeFailed, "Failed to encode response: "+err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

// decodeJSONBody reads at most limit bytes of JSON into dst. On failure it
// writes the error response and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			RequestTooLargeError(w, r, "Request body too large")
		case errors.Is(err, io.EOF):
			BadRequestError(w, r, ErrCodeInvalidJSON, "Request body is empty")
		default:
			BadRequestError(w, r, ErrCodeInvalidJSON, "Invalid JSON in request body")
		}
		return false
	}
	return true
}
