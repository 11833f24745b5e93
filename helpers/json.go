package helpers

import (
	"encoding/json"
	"net/http"
)

// WriteJSON encodes v with the given status. A zero status leaves the
// status to net/http (200 on first write).
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
