// Package http 推荐返利接口。
package http

import (
	"errors"
	"net/http"

	"github.com/davinsptra/cryptobroker/internal/referral/application"
	"github.com/davinsptra/cryptobroker/internal/referral/domain"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/referrals")
	{
		g.POST("", h.Register)
		g.GET("", h.List)
	}
}

// RegisterAdminRoutes 管理端路由
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/referral-settings", h.SaveSetting)
}

type registerReq struct {
	ReferrerID string `json:"referrer_id" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.service.Register(c.Request.Context(), req.ReferrerID, userID)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"status": "ok"})
	case errors.Is(err, domain.ErrAlreadyReferred), errors.Is(err, domain.ErrSelfReferral):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) List(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	referrals, err := h.service.ListReferrals(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrals": referrals})
}

type settingReq struct {
	ReferrerBonus string `json:"referrer_bonus" binding:"required"`
	RefereeBonus  string `json:"referee_bonus" binding:"required"`
	Active        bool   `json:"active"`
}

func (h *Handler) SaveSetting(c *gin.Context) {
	var req settingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	referrerBonus, err := decimal.NewFromString(req.ReferrerBonus)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referrer_bonus"})
		return
	}
	refereeBonus, err := decimal.NewFromString(req.RefereeBonus)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referee_bonus"})
		return
	}

	setting := &domain.Setting{
		ReferrerBonus: referrerBonus,
		RefereeBonus:  refereeBonus,
		Active:        req.Active,
	}
	if err := h.service.SaveSetting(c.Request.Context(), setting); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, setting)
}
