// Package health provides the HTTP health check handler.
//
// GET /health reports overall service status, the configured provider mode,
// and a per-provider health map:
//
//	{"status": "healthy", "mode": "funasr+deepseek",
//	 "providers": {"asr": "ok", "llm": "ok", "embedding": "ok", "vector": "ok"}}
//
// A failing provider turns its entry into "fail: <reason>" and the overall
// status into "degraded" with a 503.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single provider check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named provider health check. The Check function should return
// nil when the provider is reachable and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is the provider slot this check covers ("asr", "llm", "embedding",
	// "vector"). It appears as a key in the providers map.
	Name string

	// Check probes the provider. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// response is the JSON body served by the health endpoint.
type response struct {
	Status    string            `json:"status"`
	Mode      string            `json:"mode"`
	Providers map[string]string `json:"providers"`
}

// Handler serves the /health endpoint. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	mode     string
	checkers []Checker
}

// New creates a [Handler]. mode is a human-readable summary of the configured
// provider selection (e.g. "funasr+deepseek"). Checkers are evaluated
// sequentially in the order provided.
func New(mode string, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{mode: mode, checkers: c}
}

// Health reports service status. Every registered provider is probed with a
// [checkTimeout] deadline derived from the request context; any failure turns
// the overall status to "degraded" and the response code to 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]string, len(h.checkers))
	healthy := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			providers[c.Name] = "fail: " + err.Error()
			healthy = false
		} else {
			providers[c.Name] = "ok"
		}
	}

	res := response{
		Status:    "healthy",
		Mode:      h.mode,
		Providers: providers,
	}
	status := http.StatusOK
	if !healthy {
		res.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /health route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
