// Package middleware holds the HTTP middleware chain: bearer authentication,
// request logging, CORS and rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// IdentityResolver exchanges a bearer credential for a verified identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (domain.Identity, error)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying who.
func WithIdentity(ctx context.Context, who domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, who)
}

// IdentityFrom returns the identity Authenticate stored on the request.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	who, ok := ctx.Value(identityKey{}).(domain.Identity)
	return who, ok
}

// Authenticate resolves a bearer token when one is present and stores the
// identity in the request context. Requests without a token pass through
// anonymously; a token that does not verify is answered with 401.
//
// Websocket routes authenticate themselves so the failure can be reported
// as a close frame, and are skipped here.
func Authenticate(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil || strings.HasPrefix(r.URL.Path, "/ws/") {
				next.ServeHTTP(w, r)
				return
			}
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			who, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				status := http.StatusUnauthorized
				if !errors.Is(err, domain.ErrUnauthorized) {
					status = http.StatusServiceUnavailable
				}
				writeDenied(w, status, "invalid authentication token")
				return
			}
			noteUser(r.Context(), who.UserID)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), who)))
		})
	}
}

// RequireIdentity rejects anonymous callers with 401.
func RequireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			writeDenied(w, http.StatusUnauthorized, "missing authentication token")
			return
		}
		next(w, r)
	}
}

// RequireAdmin rejects callers that are not administrators.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := IdentityFrom(r.Context())
		if !ok {
			writeDenied(w, http.StatusUnauthorized, "missing authentication token")
			return
		}
		if who.Role != domain.RoleAdmin {
			writeDenied(w, http.StatusForbidden, "Admin role required")
			return
		}
		next(w, r)
	}
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeDenied(w http.ResponseWriter, status int, msg string) {
	writeJSONError(w, status, msg, "PermissionDeniedError")
}

func writeJSONError(w http.ResponseWriter, status int, msg, typ string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "type": typ})
}
