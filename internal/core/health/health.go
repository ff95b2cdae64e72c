package health

import (
	"encoding/json"
	"net/http"
)

// ReadinessReporter is implemented by the lifecycle manager; the engine is
// ready only after the activation cycle has completed.
type ReadinessReporter interface {
	Ready() bool
}

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := map[string]string{"status": "not_ready"}
		w.Header().Set("Content-Type", "application/json")
		if rr != nil && rr.Ready() {
			out["status"] = "ready"
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
