package api

import (
	"errors"
	"net/http"

	"github.com/TimurManjosov/querygate/internal/db"
	"github.com/TimurManjosov/querygate/internal/query"
)

// handleHealth answers 200 when the database probe succeeds and 500 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.health.Check(r.Context())
	code := http.StatusOK
	if !st.Healthy() {
		code = http.StatusInternalServerError
	}
	writeJSON(w, r, code, st)
}

type queryRequest struct {
	Text   *string `json:"text"`
	Params []any   `json:"params"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSONBody(w, r, &req, maxQueryBodyBytes) {
		return
	}
	if req.Text == nil {
		BadRequestError(w, r, ErrCodeMissingField, "Query text is required")
		return
	}

	res, err := s.queries.Execute(r.Context(), query.Request{Text: *req.Text, Params: req.Params})
	if err != nil {
		writeQueryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	if query.IsBadRequest(err) {
		BadRequestError(w, r, ErrCodeMissingField, err.Error())
		return
	}

	code := ErrCodeQueryFailed
	var pe *db.PoolError
	switch {
	case db.IsTimeout(err):
		code = ErrCodePoolTimeout
	case errors.As(err, &pe):
		code = ErrCodeDatabaseUnavailable
	}
	errResp := NewErrorResponse(code, err.Error())
	writeErrorResponse(w, r, http.StatusInternalServerError, errResp)
}
