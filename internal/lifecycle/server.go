package lifecycle

import (
	"io"
	"net/http"
)

// Handler adapts a Dispatcher to http.Handler, the listener-facing side
// of spec.md §4.6: decode the inbound request into Dispatch's
// parameters, run the lifecycle, then copy the resulting Outcome onto
// the ResponseWriter. Mirrors the shape of skipper's proxy.ServeHTTP —
// match/round-trip/apply-response-filters collapsed here into a single
// Dispatch call, since internal/plugin already owns the filter chain.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := h.dispatcher.Dispatch(r.Context(), r.RemoteAddr, r.Method, r.Host, r.URL.RequestURI(), r.Header, r.Body)

	hdr := w.Header()
	for k, vs := range out.Headers {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	if out.Status == 0 {
		out.Status = http.StatusOK
	}
	w.WriteHeader(out.Status)

	if out.Body == nil {
		return
	}
	defer out.Body.Close()
	_, _ = io.Copy(w, out.Body)
}
