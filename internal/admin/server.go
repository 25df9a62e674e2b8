// Package admin implements the REST admin surface described in
// spec.md §6: CRUD over /apisix/admin/{kind}[/{id}] protected by an
// X-API-KEY header, plus /healthz and /readyz probes.
package admin

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/zhu327/pingsix/internal/catalog"
)

// Server is the admin HTTP handler. It holds no state of its own beyond
// routing — every read and write goes straight through to the registry,
// the same single source of truth the request-serving dispatcher reads.
type Server struct {
	mux *http.ServeMux
}

// NewServer builds the admin handler. apiKey disables auth when empty,
// matching the "no identity configured" bootstrap carve-out hermes's
// admin API takes for its own unauthenticated scopes.
func NewServer(registry *catalog.Registry, apiKey string, logger *zap.SugaredLogger) *Server {
	mux := http.NewServeMux()
	mw := func(h http.Handler) http.Handler {
		return wrap(h, recovery(logger), apiKeyAuth(apiKey))
	}

	registerCRUD(mux, registry, mw, "routes",
		func(s *catalog.Snapshot) map[string]*catalog.Route { return s.Routes },
		registry.PutRoute, registry.DeleteRoute,
		func() *catalog.Route { return &catalog.Route{} },
		func(v *catalog.Route, id string) { v.ID = id })

	registerCRUD(mux, registry, mw, "upstreams",
		func(s *catalog.Snapshot) map[string]*catalog.Upstream { return s.Upstreams },
		registry.PutUpstream, registry.DeleteUpstream,
		func() *catalog.Upstream { return &catalog.Upstream{} },
		func(v *catalog.Upstream, id string) { v.ID = id })

	registerCRUD(mux, registry, mw, "services",
		func(s *catalog.Snapshot) map[string]*catalog.Service { return s.Services },
		registry.PutService, registry.DeleteService,
		func() *catalog.Service { return &catalog.Service{} },
		func(v *catalog.Service, id string) { v.ID = id })

	registerCRUD(mux, registry, mw, "global_rules",
		func(s *catalog.Snapshot) map[string]*catalog.GlobalRule { return s.GlobalRules },
		registry.PutGlobalRule, registry.DeleteGlobalRule,
		func() *catalog.GlobalRule { return &catalog.GlobalRule{} },
		func(v *catalog.GlobalRule, id string) { v.ID = id })

	registerCRUD(mux, registry, mw, "ssls",
		func(s *catalog.Snapshot) map[string]*catalog.SSLCert { return s.SSLs },
		registry.PutSSL, registry.DeleteSSL,
		func() *catalog.SSLCert { return &catalog.SSLCert{} },
		func(v *catalog.SSLCert, id string) { v.ID = id })

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(registry))

	return &Server{mux: mux}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
