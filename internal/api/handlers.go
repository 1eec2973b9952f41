package api

import (
	"encoding/json"
	"net/http"

	"github.com/wesm/chatvault/internal/apperr"
)

func errKind(err error) string { return apperr.Of(err).String() }

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusForError maps an apperr.Kind to an HTTP status (spec §7's
// error kinds realized as response codes).
func statusForError(err error) int {
	switch errKind(err) {
	case "not_found":
		return http.StatusNotFound
	case "invalid":
		return http.StatusBadRequest
	case "conflict", "ambiguity", "time_shift":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
