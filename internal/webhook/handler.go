package webhook

import (
	"inbox_backend/platform/apperr"
	"inbox_backend/platform/httpkit"
	"inbox_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

const errBodyTooLarge = "request body too large"

// Handler handles gateway webhook HTTP requests.
type Handler struct {
	service *Service
	log     *logger.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// HandleWhatsApp ingests one gateway delivery.
// POST /api/v1/webhooks/whatsapp[/:provider]
// The provider segment is informational; the dialect is read from the body.
func (h *Handler) HandleWhatsApp(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		if httpkit.IsBodyTooLarge(err) {
			httpkit.HandleError(c, apperr.PayloadTooLarge(errBodyTooLarge))
			return
		}
		httpkit.HandleError(c, apperr.BadRequest("unreadable request body"))
		return
	}

	resp, err := h.service.Process(c.Request.Context(), raw, c.Request.Header)
	if err != nil {
		h.log.WithContext(c.Request.Context()).HTTPError(c.Request.Method, c.Request.URL.Path,
			apperr.Status(err), err, c.ClientIP())
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, resp)
}
