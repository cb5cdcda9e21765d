package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"activator/internal/auth"
	"activator/internal/proxypool"
	"activator/internal/store"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func respondJSON(w http.ResponseWriter, v interface{}) {
	respondStatus(w, http.StatusOK, v)
}

func respondStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondStatus(w, code, map[string]any{"status": "error", "message": msg})
}

// respondErr maps a domain error to its HTTP status. Permission errors never
// say whether the row exists.
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, auth.ErrInvalidSession),
		errors.Is(err, proxypool.ErrInvalidProxyURL),
		errors.Is(err, errBadRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, "account not found or permission denied")
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into dst and runs its validate tags. An empty body
// decodes as {}.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pluralize(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
