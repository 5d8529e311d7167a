package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/sqlgen"
	"github.com/grantline/grantline/internal/storage"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps service errors onto HTTP status codes. Unknown errors
// become 500 and are logged; callers that talk to a cluster or the
// executor map their transport failures to 502 before reaching here.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var tmplErr *sqlgen.TemplateError
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrInvalidState):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &tmplErr):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &validationErrs):
		writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeValid decodes a JSON body into v and runs struct validation.
// Malformed JSON is a 400, failed validation a 422; both are written to
// w and reported as handled=false.
func decodeValid(w http.ResponseWriter, r *http.Request, validate *validator.Validate, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

// actorID reads the acting user from the X-Actor-Id header. Identity is
// established upstream; the header carries the resolved user id.
func actorID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get("X-Actor-Id"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func pathID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func queryInt64(r *http.Request, key string) (int64, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
