package handlers

import (
	"net/http"
	"time"

	"github.com/akmatori/nocpilot/internal/api"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/middleware"
)

// AuthHandler issues login tokens for the operator UI and reports who a token belongs to
type AuthHandler struct {
	jwtAuth *middleware.JWTAuthMiddleware
	expiry  time.Duration
	now     func() time.Time
}

// NewAuthHandler creates a new authentication handler. expiry is reported to clients
// and should match the middleware's token lifetime.
func NewAuthHandler(jwtAuth *middleware.JWTAuthMiddleware, expiry time.Duration) *AuthHandler {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &AuthHandler{jwtAuth: jwtAuth, expiry: expiry, now: time.Now}
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginResponse carries a bearer token for the API and the live feed
type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresIn int       `json:"expires_in"` // seconds
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyResponse is the body of GET /auth/verify
type VerifyResponse struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username"`
}

// SetupRoutes sets up authentication routes
func (h *AuthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("GET /auth/verify", h.handleVerify)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !api.Bind(w, r, &req) {
		return
	}

	if !h.jwtAuth.ValidateCredentials(req.Username, req.Password) {
		logging.Warnf("AuthHandler: Failed login attempt for user %q from %s", req.Username, r.RemoteAddr)
		api.RespondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, err := h.jwtAuth.GenerateToken(req.Username)
	if err != nil {
		logging.Errorf("AuthHandler: Failed to generate token for %q: %v", req.Username, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	logging.Infof("AuthHandler: %s logged in from %s", req.Username, r.RemoteAddr)

	api.RespondJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		Username:  req.Username,
		ExpiresIn: int(h.expiry.Seconds()),
		ExpiresAt: h.now().Add(h.expiry).UTC(),
	})
}

// handleVerify reports the identity behind the request's token or API key
func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == "" {
		api.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	api.RespondJSON(w, http.StatusOK, VerifyResponse{Valid: true, Username: user})
}
