package tenant

import (
	"fmt"
	"net/http"
	"strconv"
)

// Resolver identifies the tenant targeted by an admin API request.
type Resolver interface {
	Resolve(r *http.Request) (ID, error)
}

// HeaderResolver resolves the tenant from the X-Guild-ID header. The admin
// API is an operator-only surface (see DESIGN.md); production deployments
// front it with a trusted reverse proxy rather than end-user auth.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (ID, error) {
	raw := r.Header.Get("X-Guild-ID")
	if raw == "" {
		return ID{}, fmt.Errorf("missing X-Guild-ID header")
	}
	guildID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid X-Guild-ID header %q: %w", raw, err)
	}
	return Guild(guildID), nil
}

// Middleware resolves the tenant for each request via resolver and attaches
// it to the request context; unresolvable requests are rejected with 400.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		})
	}
}
