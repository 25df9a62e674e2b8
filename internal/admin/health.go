package admin

import (
	"net/http"

	"github.com/zhu327/pingsix/internal/catalog"
)

// handleHealthz is a liveness probe: it only reports the process is up
// and serving, not that the catalog is usable.
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready only once the current snapshot has at
// least one route that resolves to an upstream — a gateway with zero
// routes, or only routes pointing nowhere, cannot usefully serve
// traffic yet even though the process itself is healthy.
func handleReadyz(registry *catalog.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := registry.Current()
		for _, rt := range snap.Routes {
			if snap.ResolveUpstream(rt) != nil {
				writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
				return
			}
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}
