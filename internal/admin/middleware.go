package admin

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// wrap applies a chain of middleware wrappers to a handler, outermost
// first, matching hermes's handler.Wrap.
func wrap(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// apiKeyAuth requires a matching X-API-KEY header, per spec.md §6. An
// empty configured key disables the check, matching the bootstrap-mode
// carve-out hermes's RequireScope takes for an unset identity.
func apiKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-KEY") != key {
				writeErr(w, http.StatusUnauthorized, "invalid or missing X-API-KEY")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// recovery catches panics in an admin handler and returns a 500
// response instead of crashing the listener goroutine.
func recovery(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if logger != nil {
						logger.Errorf("admin: panic recovered: %v\n%s", err, debug.Stack())
					}
					writeErr(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
