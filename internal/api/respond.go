package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// respondJSON writes v with the given status. Encoding failures are logged;
// by then the status line is already on the wire.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("api: encoding response", slog.Any("error", err))
	}
}

// respondError writes the {"error": string} shape every failure uses.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("api: decoding request body: %w", err)
	}

	return nil
}

// queryInt parses an optional integer query parameter. Returns def when the
// parameter is absent, and an error when it is present but not an integer.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}

	return v, nil
}

// splitCSV splits a comma-separated query value, dropping empty entries.
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}

	var out []string

	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// safePathComponent reports whether name can be used as a single path
// element under the artifact root. Anything that could climb out of its
// directory is rejected.
func safePathComponent(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}
