package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/response"
)

const bearerPrefix = "bearer "

// TokenVerifier resolves a relay credential to an identity
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*domain.Identity, error)
}

type transport struct {
	verifier       TokenVerifier
	upgrader       websocket.Upgrader
	allowedOrigins map[string]struct{}

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	semaphore      chan struct{}
}

func newTransport(verifier TokenVerifier, origins []string, maxConnections int) transport {
	if maxConnections <= 0 {
		maxConnections = 1000
	}

	t := transport{
		verifier:       verifier,
		allowedOrigins: make(map[string]struct{}, len(origins)),
		maxConnections: maxConnections,
		semaphore:      make(chan struct{}, maxConnections),
	}
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			t.allowedOrigins[origin] = struct{}{}
		}
	}

	allowed := t.allowedOrigins
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Native clients do not send an Origin
			if origin == "" {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			_, wildcard := allowed["*"]
			return wildcard
		},
	}
	return t
}

// extractToken returns the credential and, when it came from the
// subprotocol list, the entry to echo back to the client.
func extractToken(r *http.Request) (token, protocol string) {
	for _, part := range websocket.Subprotocols(r) {
		if len(part) > len(bearerPrefix) && strings.EqualFold(part[:len(bearerPrefix)], bearerPrefix) {
			return part[len(bearerPrefix):], part
		}
	}
	return r.URL.Query().Get("token"), ""
}

// ServeWS authenticates and upgrades a relay connection, then serves it until it closes
func (h *RelayHub) ServeWS(c *gin.Context) {
	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		response.ServiceUnavailable(c, "Server at capacity, please try again later")
		return
	}

	token, protocol := extractToken(c.Request)
	if token == "" {
		response.Unauthorized(c, "Missing authentication token")
		return
	}

	user, err := h.authenticate(c.Request.Context(), token)
	if err != nil {
		logger.Debug("Relay authentication failed", zap.Error(err))
		response.Unauthorized(c, "Invalid or expired token")
		return
	}

	var header http.Header
	if protocol != "" {
		header = http.Header{"Sec-Websocket-Protocol": []string{protocol}}
	}

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", user.UserID.String()),
			zap.Error(err))
		return
	}

	client := newClient(h, wsConn, user)
	go client.writePump()

	ctx := context.Background()
	h.Admit(ctx, user, client)
	logger.Info("Relay connection established",
		zap.String("user_id", user.UserID.String()),
		zap.String("role", string(user.Role)))

	client.readPump(ctx)

	h.Disconnect(ctx, user, client)
	client.Close(websocket.CloseNormalClosure, "")
	logger.Info("Relay connection closed", zap.String("user_id", user.UserID.String()))
}

// authenticate verifies token and loads the current directory record
func (h *RelayHub) authenticate(ctx context.Context, token string) (*domain.User, error) {
	identity, err := h.verifier.VerifyToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return h.directory.GetByID(ctx, identity.UserID)
}
