package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, X-API-Key, " + RequestIDHeader
	corsMaxAge       = "600"
)

// CORSMiddleware lets the operator UI call the API from another origin. Origins are
// matched exactly, "*" allows any origin, and "https://*.example.com" allows every
// subdomain of example.com over https.
type CORSMiddleware struct {
	anyOrigin bool
	exact     map[string]bool
	suffixes  []corsSuffix
}

type corsSuffix struct {
	scheme string // "https://"
	domain string // ".example.com"
}

// NewCORSMiddleware builds the origin matcher. With no origins every cross-origin
// request is refused.
func NewCORSMiddleware(origins ...string) *CORSMiddleware {
	c := &CORSMiddleware{exact: make(map[string]bool)}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "*":
			c.anyOrigin = true
		case strings.Contains(o, "://*."):
			scheme, domain, _ := strings.Cut(o, "*")
			c.suffixes = append(c.suffixes, corsSuffix{scheme: scheme, domain: domain})
		case o != "":
			c.exact[o] = true
		}
	}
	return c
}

func (c *CORSMiddleware) allows(origin string) bool {
	if c.anyOrigin || c.exact[origin] {
		return true
	}
	for _, s := range c.suffixes {
		host, ok := strings.CutPrefix(origin, s.scheme)
		if ok && strings.HasSuffix(host, s.domain) && len(host) > len(s.domain) {
			return true
		}
	}
	return false
}

// Wrap answers preflights itself and decorates every other response from an allowed
// origin. Bearer tokens travel in headers, so credentials are never allowed.
func (c *CORSMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		allowed := c.allows(origin)
		if allowed {
			if c.anyOrigin {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)
		}

		if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)
		w.WriteHeader(http.StatusNoContent)
	})
}
