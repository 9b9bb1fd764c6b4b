package handler

import (
	"net/http"
	"strings"
)

// CORS returns the handler wrapped with CORS headers. Allowed methods are
// the ones the routes are registered with. A "*" entry allows every origin
// but then credentials are not allowed, as browsers require.
func (h *Handler) CORS(allowedOrigins []string) http.Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	allowAll := origins["*"]
	methods := strings.Join(append(append([]string(nil), h.methods...), http.MethodOptions), ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			hdr.Set("Access-Control-Allow-Origin", "*")
		case origins[origin]:
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Set("Access-Control-Allow-Credentials", "true")
			hdr.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			hdr.Set("Access-Control-Allow-Methods", methods)
			hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			hdr.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
