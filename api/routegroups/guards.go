package routegroups

import "net/http"

type Guards struct {
	WithAPIKey        func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(string) func(http.HandlerFunc) http.HandlerFunc
	RateLimit         func(http.HandlerFunc) http.HandlerFunc
}

// KeyPerm resolves the caller from X-API-Key and then checks perm.
func (g Guards) KeyPerm(perm string, h http.HandlerFunc) http.HandlerFunc {
	return g.WithAPIKey(g.RequirePermission(perm)(h))
}

// Limited wraps a public producer endpoint in the per-client rate limiter.
func (g Guards) Limited(h http.HandlerFunc) http.HandlerFunc {
	if g.RateLimit == nil {
		return h
	}
	return g.RateLimit(h)
}
