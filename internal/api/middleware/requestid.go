// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/verisit/verisit/internal/log"
)

// requestIDHeader is echoed on every response for client-side correlation.
const requestIDHeader = "X-Request-Id"

// RequestID propagates the inbound request id or mints a fresh one, and
// makes it available to downstream loggers via the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := log.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
