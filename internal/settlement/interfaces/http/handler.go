// Package http 网关回调入口。
package http

import (
	"errors"
	"net/http"

	"github.com/davinsptra/cryptobroker/internal/provider"
	"github.com/davinsptra/cryptobroker/internal/settlement/application"
	"github.com/davinsptra/cryptobroker/pkg/logger"
	"github.com/gin-gonic/gin"
)

// SignatureHeader 网关签名请求头
const SignatureHeader = "X-OxaPay-Signature"

type Handler struct {
	reconciler *application.Reconciler
}

func NewHandler(reconciler *application.Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/webhook/oxapay", h.HandleWebhook)
}

// HandleWebhook 接收 Oxapay 回调。
// 200 表示已处理或无需处理；非 2xx 会触发网关重发。
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}

	err = h.reconciler.Handle(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, provider.ErrBadSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, application.ErrMissingTrackID), errors.Is(err, application.ErrBadPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error(c.Request.Context(), "webhook processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
