package admin

import (
	"net/http"
	"strings"

	"github.com/zhu327/pingsix/internal/catalog"
)

// node is one entry of an admin list/get response, matching spec.md §6's
// "{key, value, createdIndex, modifiedIndex}" shape. The catalog does
// not version individual resources, so createdIndex and modifiedIndex
// both report the snapshot version the entry was read from.
type node struct {
	Key           string `json:"key"`
	Value         any    `json:"value"`
	CreatedIndex  int64  `json:"createdIndex"`
	ModifiedIndex int64  `json:"modifiedIndex"`
}

type listResponse struct {
	Total int    `json:"total"`
	List  []node `json:"list"`
}

func toNode(kind, id string, v any, version int64) node {
	return node{
		Key:           "/apisix/admin/" + kind + "/" + id,
		Value:         v,
		CreatedIndex:  version,
		ModifiedIndex: version,
	}
}

// registerCRUD mounts the list/get/put/delete routes for one resource
// kind under /apisix/admin/{kind}, generalizing the per-resource
// handler files hermes has one of each for (cluster.go, domain.go, ...)
// into a single generic shape, since every kind here is the same
// read-current-snapshot / validate-and-Put / Delete operation over
// catalog.Registry.
func registerCRUD[T any](
	mux *http.ServeMux,
	registry *catalog.Registry,
	mw func(http.Handler) http.Handler,
	kind string,
	list func(*catalog.Snapshot) map[string]T,
	put func(T) error,
	del func(string) error,
	newResource func() T,
	setID func(T, string),
) {
	base := "/apisix/admin/" + kind

	listHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := registry.Current()
		items := list(snap)
		nodes := make([]node, 0, len(items))
		for id, v := range items {
			nodes = append(nodes, toNode(kind, id, v, snap.Version))
		}
		writeJSON(w, http.StatusOK, listResponse{Total: len(nodes), List: nodes})
	})

	getHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		snap := registry.Current()
		v, ok := list(snap)[id]
		if !ok {
			writeErr(w, http.StatusNotFound, kind+" "+id+" not found")
			return
		}
		writeJSON(w, http.StatusOK, toNode(kind, id, v, snap.Version))
	})

	putHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeErr(w, http.StatusBadRequest, "id is required")
			return
		}
		v := newResource()
		if err := decodeJSON(r, v); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
		setID(v, id)
		if err := put(v); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		snap := registry.Current()
		writeJSON(w, http.StatusOK, toNode(kind, id, v, snap.Version))
	})

	deleteHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := del(id); err != nil {
			status := http.StatusConflict
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			writeErr(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": base + "/" + id})
	})

	mux.Handle("GET "+base, mw(listHandler))
	mux.Handle("GET "+base+"/{id}", mw(getHandler))
	mux.Handle("PUT "+base+"/{id}", mw(putHandler))
	mux.Handle("DELETE "+base+"/{id}", mw(deleteHandler))
}
