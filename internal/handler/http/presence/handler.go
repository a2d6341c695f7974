package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"pulse-backend/internal/domain"
	"pulse-backend/pkg/response"
)

// OnlineLister returns the online usernames that allow being seen
type OnlineLister interface {
	VisibleOnlineUsernames(ctx context.Context) []string
}

// Handler handles presence HTTP requests
type Handler struct {
	lister OnlineLister
}

// NewHandler creates a new presence handler
func NewHandler(lister OnlineLister) *Handler {
	return &Handler{
		lister: lister,
	}
}

// GetOnline lists visible online users
// GET /v1/presence/online
func (h *Handler) GetOnline(c *gin.Context) {
	online := h.lister.VisibleOnlineUsernames(c.Request.Context())

	response.Success(c, http.StatusOK, domain.PresenceResponse{
		Online: online,
		Count:  len(online),
	})
}
