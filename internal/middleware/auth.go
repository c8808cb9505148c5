package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyUser is the identity recorded for requests that use an unnamed API key
const APIKeyUser = "api-key"

// skipList matches request paths that bypass authentication. Entries ending in "*"
// match by prefix, everything else must match exactly.
type skipList struct {
	exact    map[string]bool
	prefixes []string
}

func newSkipList(paths []string) skipList {
	s := skipList{exact: make(map[string]bool)}
	for _, p := range paths {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			s.prefixes = append(s.prefixes, prefix)
			continue
		}
		s.exact[p] = true
	}
	return s
}

func (s skipList) matches(path string) bool {
	if s.exact[path] {
		return true
	}
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

type apiKey struct {
	name   string
	secret []byte
}

// keyring holds static API keys. An entry "name:secret" names the client, so approvals
// it resolves are attributed to "api-key:name"; a bare secret maps to APIKeyUser.
type keyring []apiKey

func newKeyring(entries []string) keyring {
	ring := make(keyring, 0, len(entries))
	for _, e := range entries {
		name, secret, named := strings.Cut(e, ":")
		if !named {
			name, secret = "", e
		}
		if secret == "" {
			continue
		}
		ring = append(ring, apiKey{name: name, secret: []byte(secret)})
	}
	return ring
}

// identify returns the identity for provided. Every key is compared so the time taken
// does not depend on which one matched.
func (k keyring) identify(provided string) (string, bool) {
	if provided == "" {
		return "", false
	}
	identity, found := "", false
	for _, key := range k {
		if subtle.ConstantTimeCompare([]byte(provided), key.secret) == 1 && !found {
			identity, found = APIKeyUser, true
			if key.name != "" {
				identity = APIKeyUser + ":" + key.name
			}
		}
	}
	return identity, found
}

// extractAPIKey reads a static API key from the X-API-Key header or the
// "Authorization: ApiKey <key>" form
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "ApiKey "); ok {
		return key
	}
	return ""
}

// extractToken reads the bearer token. Browsers cannot set headers on WebSocket
// upgrades, so the live feed may pass it as ?token= instead.
func extractToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}
