package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/akmatori/nocpilot/internal/api"
	"github.com/akmatori/nocpilot/internal/logging"
)

// tokenIssuer is written to and required in the iss and aud claims
const tokenIssuer = "nocpilot"

// JWTAuthConfig holds JWT authentication configuration
type JWTAuthConfig struct {
	// Enabled determines if authentication is enforced
	Enabled bool

	// AdminUsername is the operator account allowed to log in
	AdminUsername string

	// AdminPasswordHash is the bcrypt hash of the admin password
	AdminPasswordHash string

	// JWTSecret signs login tokens
	JWTSecret string

	// JWTExpiryHours is the token lifetime
	JWTExpiryHours int

	// APIKeys are static keys for automation clients, as "secret" or "name:secret"
	APIKeys []string

	// SkipPaths are paths that don't require authentication
	SkipPaths []string
}

// JWTAuthMiddleware authenticates requests by bearer token or API key and stores the
// caller's identity in the request context
type JWTAuthMiddleware struct {
	mu     sync.RWMutex
	config JWTAuthConfig
	keys   keyring
	skip   skipList
	now    func() time.Time
}

// ContextKey is a type for context keys
type ContextKey string

// UserContextKey is the context key for the authenticated identity
const UserContextKey ContextKey = "user"

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config *JWTAuthConfig) *JWTAuthMiddleware {
	return &JWTAuthMiddleware{
		config: *config,
		keys:   newKeyring(config.APIKeys),
		skip:   newSkipList(config.SkipPaths),
		now:    time.Now,
	}
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// GenerateToken issues a signed login token for username
func (m *JWTAuthMiddleware) GenerateToken(username string) (string, error) {
	m.mu.RLock()
	secret, ttl := m.config.JWTSecret, time.Duration(m.config.JWTExpiryHours)*time.Hour
	m.mu.RUnlock()

	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken verifies signature, algorithm, issuer, audience and expiry and
// returns the username the token was issued to
func (m *JWTAuthMiddleware) ValidateToken(tokenString string) (string, error) {
	m.mu.RLock()
	secret := m.config.JWTSecret
	m.mu.RUnlock()

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// ValidateCredentials checks the admin username and password
func (m *JWTAuthMiddleware) ValidateCredentials(username, password string) bool {
	m.mu.RLock()
	admin, hash := m.config.AdminUsername, m.config.AdminPasswordHash
	m.mu.RUnlock()

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(admin)) == 1
	// bcrypt runs even when the username is wrong
	passOK := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	return userOK && passOK
}

// SetAPIKeys replaces the accepted static keys, e.g. after a config reload
func (m *JWTAuthMiddleware) SetAPIKeys(keys []string) {
	ring := newKeyring(keys)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.APIKeys = append([]string(nil), keys...)
	m.keys = ring
}

// authenticate returns the caller identity, or a message for the 401 response
func (m *JWTAuthMiddleware) authenticate(r *http.Request) (string, string) {
	m.mu.RLock()
	keys := m.keys
	m.mu.RUnlock()

	if identity, ok := keys.identify(extractAPIKey(r)); ok {
		return identity, ""
	}

	token := extractToken(r)
	if token == "" {
		return "", "Missing authentication token"
	}
	username, err := m.ValidateToken(token)
	if err != nil {
		logging.Warnf("JWTAuthMiddleware: Invalid token from %s: %v", r.RemoteAddr, err)
		return "", "Invalid or expired token"
	}
	return username, ""
}

// Wrap wraps an http.Handler with authentication
func (m *JWTAuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		enabled := m.config.Enabled
		m.mu.RUnlock()

		if !enabled || m.skip.matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, problem := m.authenticate(r)
		if problem != "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="nocpilot"`)
			api.RespondError(w, http.StatusUnauthorized, problem)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, identity)))
	})
}

// GetUserFromContext returns the authenticated identity, or "" for unauthenticated requests
func GetUserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(UserContextKey).(string)
	return user
}
