package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"oauth-bridge/internal/common/logging"
)

const (
	// SessionCookieName is the cookie carrying the signed session token
	SessionCookieName = "session"
	// UserIDHeader carries the authenticated user id to downstream handlers
	UserIDHeader = "X-User-ID"
)

// TokenGuard is the slice of the token manager the middleware needs to
// enforce the auto-logout boundary
type TokenGuard interface {
	ShouldAutoLogout(ctx context.Context, userID string) bool
	RevokeTokens(ctx context.Context, userID string)
}

// Auth authenticates requests and enforces auto-logout when the user's
// provider authentication has irrecoverably lapsed
type Auth struct {
	sessions   *SessionManager
	guard      TokenGuard
	connectURL string
	logger     logging.Logger
}

// New creates the auth layer. connectURL is where clients are redirected to
// re-authenticate with the provider.
func New(sessions *SessionManager, guard TokenGuard, connectURL string, logger logging.Logger) *Auth {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Auth{
		sessions:   sessions,
		guard:      guard,
		connectURL: connectURL,
		logger:     logger,
	}
}

// ErrorResponse is the 401 body returned on authentication failures.
// AutoLogout tells the client its session was terminated server-side and it
// must drop local state, not just retry.
type ErrorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirectUrl"`
	AutoLogout  bool   `json:"autoLogout"`
}

// RequireAuth validates the session cookie and runs the auto-logout check
// before admitting the request. The authenticated user id is exposed to
// downstream handlers via the X-User-ID header.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil {
			a.WriteAuthRequired(w, "authentication required")
			return
		}

		userID, err := a.sessions.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			a.clearCookie(w)
			a.WriteAuthRequired(w, "invalid session")
			return
		}

		if a.guard != nil && a.guard.ShouldAutoLogout(r.Context(), userID) {
			a.AutoLogout(w, r, userID, "provider authentication expired")
			return
		}

		// Clear any inbound value first; only the middleware sets this
		r.Header.Set(UserIDHeader, userID)
		next.ServeHTTP(w, r)
	})
}

// UserID returns the authenticated user id set by RequireAuth
func UserID(r *http.Request) string {
	return r.Header.Get(UserIDHeader)
}

// Login creates a session for the user and sets the session cookie
func (a *Auth) Login(ctx context.Context, w http.ResponseWriter, userID string) error {
	token, expiresAt, err := a.sessions.CreateSession(ctx, userID)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Logout terminates the session and clears the cookie
func (a *Auth) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := a.sessions.EndSession(ctx, cookie.Value); err != nil {
			a.logger.Warn("Failed to end session on logout",
				logging.Err(err),
			)
		}
	}
	a.clearCookie(w)
}

// AutoLogout terminates the user's session because their provider
// authentication lapsed: stored provider tokens are revoked, the session is
// ended, the cookie is cleared and the client is told to re-authenticate.
// Every cleanup step is best-effort; the 401 is returned regardless.
func (a *Auth) AutoLogout(w http.ResponseWriter, r *http.Request, userID, reason string) {
	a.logger.Info("Auto-logout",
		logging.Field{Key: "user_id", Value: userID},
		logging.Field{Key: "reason", Value: reason},
	)

	if a.guard != nil {
		a.guard.RevokeTokens(r.Context(), userID)
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := a.sessions.EndSession(r.Context(), cookie.Value); err != nil {
			a.logger.Warn("Failed to end session on auto-logout",
				logging.Field{Key: "user_id", Value: userID},
				logging.Err(err),
			)
		}
	}
	a.clearCookie(w)

	writeJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:       "AUTH_EXPIRED",
		Message:     reason,
		RedirectURL: a.connectURL,
		AutoLogout:  true,
	})
}

// WriteAuthRequired writes the standard 401 for requests without a valid
// session
func (a *Auth) WriteAuthRequired(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:       "AUTH_REQUIRED",
		Message:     message,
		RedirectURL: a.connectURL,
	})
}

func (a *Auth) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
