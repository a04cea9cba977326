package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeProblem renders an RFC 7807 problem response from inside the
// middleware chain, mirroring the api package's error surface without
// importing it.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail, correlationID string) error {
	problem := struct {
		Type          string `json:"type"`
		Title         string `json:"title"`
		Status        int    `json:"status"`
		Detail        string `json:"detail"`
		Instance      string `json:"instance"`
		CorrelationID string `json:"correlationId,omitempty"`
	}{
		Type:          fmt.Sprintf("https://floatchat.io/problems/%d", status),
		Title:         title,
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
