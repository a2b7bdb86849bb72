package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// OwnerHeader carries the authenticated user id. The upstream auth proxy
// sets it after verifying the session; this service only checks its shape.
const OwnerHeader = "X-User-ID"

type ownerKey struct{}

// WithOwner returns a context carrying the owner id.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner id stored by RequireOwner, or "".
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// RequireOwner rejects requests whose X-User-ID is missing or not a UUID
// and stores the canonical id in the request context.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(OwnerHeader))
		id, err := uuid.Parse(raw)
		if raw == "" || err != nil {
			slog.Warn("auth: missing or invalid user id",
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			writeAuthError(w, http.StatusUnauthorized, "You are not signed in", "AUTH001")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), id.String())))
	})
}
