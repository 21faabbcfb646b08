package api

import "net/http"

// NewRouter mounts the public API routes behind request-ID and access-log
// middleware.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /kv/{key}", h.Get)
	mux.HandleFunc("PUT /kv/{key}", h.Put)
	mux.HandleFunc("DELETE /kv/{key}", h.Delete)

	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /operations/snapshot", h.Snapshot)
	mux.HandleFunc("POST /operations/vote", h.Vote)
	mux.HandleFunc("POST /config/peers", h.Peers)

	return withRequestID(withAccessLog(h.Logger, mux))
}
