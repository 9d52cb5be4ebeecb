// Package middleware provides HTTP middleware for the mock backend.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// Defaults applied to zero CORSConfig fields.
var (
	DefaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	DefaultCORSHeaders = []string{"Authorization", "Content-Type", "X-Requested-With"}
)

// DefaultCORSMaxAge is how long browsers may cache a preflight, in seconds.
const DefaultCORSMaxAge = 600

// CORSConfig configures the CORS middleware. An empty AllowedOrigins, or
// one containing "*", accepts any origin but never with credentials.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

type corsPolicy struct {
	explicit map[string]struct{}
	wildcard bool
	methods  string
	headers  string
	maxAge   string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{explicit: make(map[string]struct{}, len(cfg.AllowedOrigins))}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			p.wildcard = true
			continue
		}
		p.explicit[o] = struct{}{}
	}
	if len(cfg.AllowedOrigins) == 0 {
		p.wildcard = true
	}

	methods, headers, maxAge := cfg.AllowedMethods, cfg.AllowedHeaders, cfg.MaxAge
	if len(methods) == 0 {
		methods = DefaultCORSMethods
	}
	if len(headers) == 0 {
		headers = DefaultCORSHeaders
	}
	if maxAge <= 0 {
		maxAge = DefaultCORSMaxAge
	}
	p.methods = strings.Join(methods, ", ")
	p.headers = strings.Join(headers, ", ")
	p.maxAge = strconv.Itoa(maxAge)
	return p
}

// match reports whether origin is accepted and whether it was named
// explicitly. Credentials are only ever sent to explicit origins.
func (p *corsPolicy) match(origin string) (allowed, explicit bool) {
	if origin == "" {
		return false, false
	}
	if _, ok := p.explicit[origin]; ok {
		return true, true
	}
	return p.wildcard, false
}

func (p *corsPolicy) preflight(w http.ResponseWriter, allowed bool) {
	if allowed {
		h := w.Header()
		h.Set("Access-Control-Allow-Methods", p.methods)
		h.Set("Access-Control-Allow-Headers", p.headers)
		h.Set("Access-Control-Max-Age", p.maxAge)
	}
	w.WriteHeader(http.StatusNoContent)
}

// CORS returns middleware that applies cfg to every request. Preflights
// (OPTIONS with Access-Control-Request-Method) are answered with 204 and
// never reach the next handler.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}

			allowed, explicit := p.match(origin)
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, allowed)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
