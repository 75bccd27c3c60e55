package handler

import (
	"net/http"

	"inbox_backend/internal/inbox/service"
	"inbox_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgInvalidMessageID = "invalid message id"

// Handler serves the inbox read endpoints.
type Handler struct {
	links *service.MediaLinks
}

func New(links *service.MediaLinks) *Handler {
	return &Handler{links: links}
}

// GetMediaURL mints a short-lived download URL for a message's media.
// GET /api/v1/messages/:messageId/media-url
func (h *Handler) GetMediaURL(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidMessageID, nil)
		return
	}
	tenantID, ok := httpkit.GetIdentity(c).TenantID()
	if !ok {
		httpkit.Error(c, http.StatusForbidden, "tenant required", nil)
		return
	}

	url, err := h.links.DownloadURL(c.Request.Context(), tenantID, messageID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, url)
}
