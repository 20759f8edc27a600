package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// respondJSON sends a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.Any("err", err))
	}
}

func errorResponse(message string) map[string]string {
	return map[string]string{"error": message}
}

var errBodyRequired = errors.New("request body is required")

// decodeJSON reads exactly one JSON object from the request body. Callers
// bound the body with http.MaxBytesReader first.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errBodyRequired
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(new(struct{})); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// isHTMXRequest checks if the request was made by HTMX.
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") != ""
}

// setHXTrigger fires one client-side event with detail once HTMX swaps the response.
func setHXTrigger(w http.ResponseWriter, event string, detail any) {
	payload, err := json.Marshal(map[string]any{event: detail})
	if err != nil {
		slog.Warn("failed to encode HX-Trigger", slog.String("event", event), slog.Any("err", err))
		return
	}
	w.Header().Set("HX-Trigger", string(payload))
}

// writeSSE sends one data frame and flushes it.
func writeSSE(w io.Writer, flusher http.Flusher, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
