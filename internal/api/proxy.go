package api

import "net/http"

// handleProxy relays ?url=<relative path> to the summarization service and
// writes its status and body unchanged.
func handleProxy(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := deps.Forwarder.Forward(r.Context(), r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
	}
}
