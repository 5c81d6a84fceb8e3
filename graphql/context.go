package graphql

import (
	"context"
	"net/http"
	"strings"
)

type userKey struct{}

// UserHeader carries the authenticated user id, set by the auth proxy in front of the service.
const UserHeader = "X-User-ID"

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns "" when the request is anonymous.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// UserMiddleware copies UserHeader into the request context.
func UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
			r = r.WithContext(WithUser(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
