package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	mw "github.com/teamgrid/realtime-hub/internal/adapters/primary/http/middleware"
	wsAdapter "github.com/teamgrid/realtime-hub/internal/adapters/primary/websocket"
	"github.com/teamgrid/realtime-hub/internal/auth"
	"github.com/teamgrid/realtime-hub/internal/config"
)

// WebSocketHandler handles WebSocket connection upgrades.
//
// Connections that fail authentication are rejected here, before the
// upgrade: an unauthenticated socket is never admitted, not even in a
// quarantined state.
type WebSocketHandler struct {
	hub      *wsAdapter.Hub
	tm       *auth.TokenManager
	upgrader websocket.Upgrader

	// userLimiter throttles handshakes per user id so a reconnect storm
	// from one misbehaving client cannot monopolize the upgrade path.
	userLimiter *mw.RateLimitByKey

	logger *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *wsAdapter.Hub,
	tm *auth.TokenManager,
	cfg *config.Config,
	logger *slog.Logger,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub:         hub,
		tm:          tm,
		userLimiter: mw.NewRateLimitByKey(2, 5),
		logger:      logger,
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     makeOriginChecker(cfg, logger),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func makeOriginChecker(cfg *config.Config, logger *slog.Logger) func(r *http.Request) bool {
	allowedOrigins := cfg.WebSocket.AllowedOrigins
	development := cfg.IsDevelopment()

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// In development mode, allow all origins (but log a warning)
		if development {
			if origin != "" {
				logger.Warn("allowing websocket connection in development mode",
					"origin", origin,
					"remote_addr", r.RemoteAddr,
				)
			}
			return true
		}

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:] // Remove the "*", keep ".example.com"
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ServeHTTP handles WebSocket connection requests
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	// 1. Authenticate the connection via query parameter
	identity, err := h.tm.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Warn("websocket connection rejected",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		http.Error(w, "Invalid or missing authentication token", http.StatusUnauthorized)
		return
	}

	if !h.userLimiter.Allow(identity.UserID.String()) {
		h.logger.Warn("websocket handshake rate limited",
			"request_id", requestID,
			"user_id", identity.UserID,
		)
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	// 2. Upgrade the connection
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection",
			"request_id", requestID,
			"user_id", identity.UserID,
			"error", err,
		)
		return
	}

	// 3. Create and register the new client
	client := wsAdapter.NewClient(h.hub, conn, identity, h.logger)
	if err := h.hub.Register(client); err != nil {
		h.logger.Error("failed to register connection",
			"request_id", requestID,
			"user_id", identity.UserID,
			"error", err,
		)
		_ = conn.Close()
		return
	}

	h.logger.Info("websocket connection established",
		"request_id", requestID,
		"connection_id", client.ID,
		"user_id", identity.UserID,
		"org_id", identity.OrgID,
		"remote_addr", r.RemoteAddr,
	)

	// 4. Start the I/O pumps in new goroutines
	go client.WritePump()
	go client.ReadPump()
}
