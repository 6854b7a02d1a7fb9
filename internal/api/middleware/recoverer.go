// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/verisit/verisit/internal/log"
)

// Recoverer converts handler panics into a 500 response instead of
// tearing down the connection, and logs the stack.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				l := log.WithComponentFromContext(r.Context(), "http")
				l.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("handler panic recovered")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"INTERNAL","message":"internal server error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
