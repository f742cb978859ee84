package middleware

import (
	"net/http"
	"strings"

	apperrors "github.com/utafrali/facetindex/pkg/errors"
	"github.com/utafrali/facetindex/pkg/httputil"
)

// TokenValidator reports whether token grants access.
type TokenValidator func(token string) bool

// BearerAuth rejects requests whose "Authorization: Bearer <token>" header is
// missing or not accepted by validate.
func BearerAuth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing or malformed bearer token"), nil)
				return
			}
			if !validate(strings.TrimSpace(token)) {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid token"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
