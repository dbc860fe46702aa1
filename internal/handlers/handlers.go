// Package handlers contains the HTTP API surface.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"oauth-bridge/internal/auth"
	"oauth-bridge/internal/common/errors"
	"oauth-bridge/internal/common/logging"
	"oauth-bridge/internal/storage"
	"oauth-bridge/internal/tokens"
)

// Handlers bundles the API handlers and their dependencies
type Handlers struct {
	store   storage.Storage
	manager *tokens.Manager
	sweeper *tokens.Sweeper
	auth    *auth.Auth
	logger  logging.Logger
}

// New creates the handler set
func New(store storage.Storage, manager *tokens.Manager, sweeper *tokens.Sweeper, a *auth.Auth, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		store:   store,
		manager: manager,
		sweeper: sweeper,
		auth:    a,
		logger:  logger,
	}
}

// RegisterRoutes wires all routes onto the router. The provider proxy and
// the sweep trigger sit behind the auth middleware; login, logout and health
// are public.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/login", h.HandleLogin).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/logout", h.HandleLogout).Methods(http.MethodPost)
	router.Handle("/api/admin/sweep", h.auth.RequireAuth(http.HandlerFunc(h.HandleSweep))).Methods(http.MethodPost)

	protected := router.PathPrefix("/api/provider").Subrouter()
	protected.Use(h.auth.RequireAuth)
	protected.HandleFunc("/{endpoint:.*}", h.ProxyProvider)
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// HandleLogin creates (or looks up) the user and issues a session cookie
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		h.logger.Error("Failed to look up user", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if user == nil {
		user = &storage.User{
			ID:        uuid.NewString(),
			Username:  req.Username,
			CreatedAt: time.Now().UTC(),
		}
		if err := h.store.CreateUser(r.Context(), user); err != nil {
			h.logger.Error("Failed to create user", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	if err := h.auth.Login(r.Context(), w, user.ID); err != nil {
		h.logger.Error("Failed to create session", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{UserID: user.ID, Username: user.Username})
}

// HandleLogout terminates the caller's session
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), w, r)
	w.WriteHeader(http.StatusNoContent)
}

// ProxyProvider forwards the request to the provider's API with a valid
// access token. Token resolution, refresh and the bounded 401 retry all
// happen inside the manager; this handler only maps outcomes onto HTTP.
func (h *Handlers) ProxyProvider(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r)
	endpoint := mux.Vars(r)["endpoint"]

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
	}

	opts := &tokens.CallOptions{
		Method: r.Method,
		Body:   body,
		Query:  r.URL.Query(),
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		opts.Headers = map[string]string{"Content-Type": ct}
	}

	respBody, err := h.manager.CallProvider(r.Context(), userID, endpoint, opts)
	if err != nil {
		h.writeProviderError(w, r, userID, endpoint, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)
}

func (h *Handlers) writeProviderError(w http.ResponseWriter, r *http.Request, userID, endpoint string, err error) {
	switch errors.GetType(err) {
	case errors.ErrTypeAuthRequired:
		// Terminal: the user must re-authenticate with the provider
		h.auth.AutoLogout(w, r, userID, "provider authentication expired")

	case errors.ErrTypeProvider, errors.ErrTypeTransport:
		h.logger.Warn("Provider call failed",
			logging.Field{Key: "user_id", Value: userID},
			logging.Field{Key: "endpoint", Value: endpoint},
			logging.Err(err),
		)
		writeError(w, http.StatusBadGateway, "provider unavailable")

	default:
		h.logger.Error("Provider proxy failed", err,
			logging.Field{Key: "user_id", Value: userID},
			logging.Field{Key: "endpoint", Value: endpoint},
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// HandleSweep triggers one maintenance pass and returns its summary
func (h *Handlers) HandleSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error("Manual sweep failed", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HealthCheck reports storage health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
