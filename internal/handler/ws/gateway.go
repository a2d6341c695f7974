// Package ws is the realtime gateway: authenticated WebSocket connections,
// event dispatch with acknowledgements, and fan-out to users and rooms.
package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pulse-backend/internal/domain"
	"pulse-backend/internal/middleware"
	"pulse-backend/internal/service/relay"
	"pulse-backend/internal/service/signaling"
	"pulse-backend/pkg/constants"
	apperrors "pulse-backend/pkg/errors"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
	"pulse-backend/pkg/response"
)

// Presence is the connection registry
type Presence interface {
	ConnectionIndex
	Register(ctx context.Context, connID, username string) bool
	Unregister(ctx context.Context, connID string) (username string, last bool)
	Refresh(ctx context.Context, username string)
	VisibleOnlineUsernames(ctx context.Context) []string
}

// Reconciler reacts to users going offline and coming back
type Reconciler interface {
	UserDisconnected(ctx context.Context, username string)
	UserReconnected(username string)
}

// Calls handles voice/video signaling events
type Calls interface {
	Offer(ctx context.Context, connID, caller string, req signaling.OfferRequest) error
	Answer(ctx context.Context, callee string, req signaling.AnswerRequest) error
	IceCandidate(ctx context.Context, from string, req signaling.IceCandidateRequest) error
	Reject(ctx context.Context, from, to, reason string) error
	Hangup(ctx context.Context, from, to, reason string) error
}

// Chat handles direct message events
type Chat interface {
	Send(ctx context.Context, connID, sender string, req relay.SendRequest) (*domain.MessageResponse, error)
	Edit(ctx context.Context, requester string, req relay.EditRequest) (*relay.MessageEditedPayload, error)
	Delete(ctx context.Context, requester string, req relay.DeleteRequest) (*relay.MessageDeletedPayload, error)
	React(ctx context.Context, requester string, req relay.ReactRequest) (*relay.ReactionUpdatedPayload, error)
	Seen(ctx context.Context, viewer string, req relay.SeenRequest) error
	Typing(ctx context.Context, connID, from string, req relay.TypingRequest) error
}

// Config holds gateway limits
type Config struct {
	MaxConnections int
	AllowedOrigins []string
	SendBuffer     int
	MaxFrameBytes  int64
}

// Handler upgrades authenticated requests and serves the event protocol
type Handler struct {
	cfg        Config
	hub        *Hub
	auth       *middleware.Authenticator
	presence   Presence
	reconciler Reconciler
	calls      Calls
	chat       Chat

	upgrader  websocket.Upgrader
	semaphore chan struct{}
	events    map[string]eventFunc
	wg        sync.WaitGroup
}

// NewHandler creates a new gateway handler
func NewHandler(
	cfg Config,
	hub *Hub,
	auth *middleware.Authenticator,
	presence Presence,
	reconciler Reconciler,
	calls Calls,
	chat Chat,
) *Handler {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 64 * 1024
	}

	h := &Handler{
		cfg:        cfg,
		hub:        hub,
		auth:       auth,
		presence:   presence,
		reconciler: reconciler,
		calls:      calls,
		chat:       chat,
		semaphore:  make(chan struct{}, cfg.MaxConnections),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	h.events = h.routes()
	return h
}

// originChecker accepts listed origins. Clients that send no Origin header
// are not browsers and are let through; "*" disables the check.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] {
			return true
		}
		return allowed[origin]
	}
}

// ServeWS handles the WebSocket handshake
func (h *Handler) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		metrics.WebSocketConnectionTotal.WithLabelValues("rejected_capacity").Inc()
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	tokenString := middleware.ExtractToken(c.Request)
	if tokenString == "" {
		<-h.semaphore
		metrics.WebSocketConnectionTotal.WithLabelValues("rejected_auth").Inc()
		response.Unauthorized(c, "Authorization required")
		return
	}
	claims, err := h.auth.Authenticate(c.Request.Context(), tokenString)
	if err != nil {
		<-h.semaphore
		metrics.WebSocketConnectionTotal.WithLabelValues("rejected_auth").Inc()
		response.FromError(c, apperrors.InvalidTokenError("Invalid token"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		metrics.WebSocketConnectionTotal.WithLabelValues("upgrade_failed").Inc()
		logger.Warn("WebSocket upgrade failed",
			zap.String("username", claims.Username),
			zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), claims.Username, conn, h.cfg.SendBuffer)
	h.connect(client)

	go client.writePump()
	go client.readPump(h)
}

func (h *Handler) connect(c *Client) {
	h.wg.Add(1)
	metrics.WebSocketConnections.Inc()
	metrics.WebSocketConnectionTotal.WithLabelValues("accepted").Inc()

	ctx, cancel := context.WithTimeout(logger.WithConnectionID(context.Background(), c.id), constants.DefaultTimeout)
	defer cancel()

	h.hub.add(c)
	if first := h.presence.Register(ctx, c.id, c.username); first {
		h.reconciler.UserReconnected(c.username)
	}

	logger.FromContext(ctx).Info("WebSocket client connected", zap.String("username", c.username))
	h.broadcastOnline(ctx)
}

func (h *Handler) disconnect(c *Client) {
	defer h.wg.Done()
	defer func() { <-h.semaphore }()

	c.close()
	h.hub.remove(c)
	metrics.WebSocketConnections.Dec()

	ctx, cancel := context.WithTimeout(logger.WithConnectionID(context.Background(), c.id), constants.DefaultTimeout)
	defer cancel()

	if username, last := h.presence.Unregister(ctx, c.id); last {
		h.reconciler.UserDisconnected(ctx, username)
	}

	logger.FromContext(ctx).Info("WebSocket client disconnected", zap.String("username", c.username))
	h.broadcastOnline(ctx)
}

func (h *Handler) broadcastOnline(ctx context.Context) {
	h.hub.Broadcast(EventOnlineUsers, h.presence.VisibleOnlineUsernames(ctx))
}

// Shutdown closes every connection and waits for their disconnect handling
// to finish or ctx to expire
func (h *Handler) Shutdown(ctx context.Context) error {
	h.hub.closeAll()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
