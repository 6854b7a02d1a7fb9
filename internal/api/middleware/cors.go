// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
)

// CORS returns a middleware that sets Cross-Origin Resource Sharing
// headers. The attendance clients run from arbitrary school portals, so
// the default configuration ("*") reflects any origin back and allows
// credentials; a strict origin list remains available.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	allowAll := allowed["*"] || len(allowedOrigins) == 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (allowAll || allowed[origin]) {
				// Echo the origin rather than "*" so credentialed
				// requests pass the browser's CORS check.
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE, PUT, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id, Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.Header().Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
