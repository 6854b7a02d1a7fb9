// SPDX-License-Identifier: MIT

package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/verisit/verisit/internal/domain/fault"
	"github.com/verisit/verisit/internal/log"
)

// adminAuth guards the operator endpoints (device reset, anomaly
// review, analyzer trigger). No configured token fails closed.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "auth")

		if s.apiToken == "" {
			logger.Error().Str("event", "auth.fail_closed").
				Msg("admin endpoint hit but no API token configured, denying")
			writeError(w, r, fault.New(fault.CodeUnauthorized, "admin access is not configured"))
			return
		}

		token := extractToken(r)
		if token == "" {
			logger.Warn().Str("event", "auth.missing_token").Msg("authorization header missing")
			writeError(w, r, fault.New(fault.CodeUnauthorized, "missing API token"))
			return
		}

		if !tokensEqual(token, s.apiToken) {
			logger.Warn().Str("event", "auth.invalid_token").Msg("invalid api token")
			writeError(w, r, fault.New(fault.CodeUnauthorized, "invalid API token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken reads a Bearer token from the Authorization header.
func extractToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// tokensEqual compares tokens in constant time. Hashing first keeps the
// comparison length-independent.
func tokensEqual(got, want string) bool {
	a := sha256.Sum256([]byte(got))
	b := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
