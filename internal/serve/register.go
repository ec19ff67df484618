package serve

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Register mounts the handler on a chi router for every method, so that
// non-GET requests receive a 405 from the handler rather than the router.
//
// Routes registered on r with a more specific pattern keep precedence over a
// root mount regardless of registration order. The mount path must not
// contain chi pattern syntax ("{", "}" or "*").
func (e Embed) Register(r chi.Router) {
	if e.IsRoot() {
		r.Handle("/*", e)
		return
	}
	r.Handle(e.mountPath, e)
	r.Handle(e.mountPath+"/*", e)
}

// RegisterMux mounts the handler on a standard library ServeMux.
func (e Embed) RegisterMux(mux *http.ServeMux) {
	if e.IsRoot() {
		mux.Handle("/", e)
		return
	}
	mux.Handle(e.mountPath, e)
	mux.Handle(e.mountPath+"/", e)
}
