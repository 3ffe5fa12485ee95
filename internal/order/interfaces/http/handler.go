// Package http 订单接口。
package http

import (
	"errors"
	"net/http"
	"strconv"

	ledgerdomain "github.com/davinsptra/cryptobroker/internal/ledger/domain"
	"github.com/davinsptra/cryptobroker/internal/order/application"
	"github.com/davinsptra/cryptobroker/internal/order/domain"
	pricing "github.com/davinsptra/cryptobroker/internal/pricing/domain"
	"github.com/davinsptra/cryptobroker/internal/provider"
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
	g := r.Group("/orders")
	{
		g.POST("/buy", h.PlaceBuy)
		g.POST("/sell", h.PlaceSell)
		g.GET("/quote/buy", h.QuoteBuy)
		g.GET("", h.List)
		g.GET("/:id", h.Get)
	}
}

// RegisterAdminRoutes 管理端路由
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	g := r.Group("/coins")
	{
		g.GET("", h.ListCoinSettings)
		g.PUT("", h.SaveCoinSetting)
	}
}

type placeBuyReq struct {
	CoinSymbol    string `json:"coin_symbol" binding:"required"`
	Network       string `json:"network"`
	WalletAddress string `json:"wallet_address" binding:"required"`
	FiatAmount    string `json:"fiat_amount" binding:"required"`
}

func (h *Handler) PlaceBuy(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req placeBuyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.FiatAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fiat_amount"})
		return
	}

	order, err := h.service.PlaceBuyOrder(c.Request.Context(), userID, req.CoinSymbol, req.Network, req.WalletAddress, amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// QuoteBuy 按加密货币数量预报价，不落单不占资金
func (h *Handler) QuoteBuy(c *gin.Context) {
	symbol := c.Query("coin_symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coin_symbol is required"})
		return
	}
	amount, err := decimal.NewFromString(c.Query("crypto_amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid crypto_amount"})
		return
	}

	quote, err := h.service.QuoteBuyByCrypto(c.Request.Context(), symbol, c.Query("network"), amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"crypto_amount":    quote.CryptoOut,
		"effective_rate":   quote.EffectiveRate,
		"network_fee_fiat": quote.NetworkFeeFiat,
		"total_fiat":       quote.TotalFiat,
	})
}

type placeSellReq struct {
	CoinSymbol   string `json:"coin_symbol" binding:"required"`
	Network      string `json:"network"`
	CryptoAmount string `json:"crypto_amount" binding:"required"`
}

func (h *Handler) PlaceSell(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req placeSellReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.CryptoAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid crypto_amount"})
		return
	}

	order, err := h.service.PlaceSellOrder(c.Request.Context(), userID, req.CoinSymbol, req.Network, amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) List(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, total, err := h.service.ListOrders(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "orders": orders})
}

func (h *Handler) Get(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	order, err := h.service.GetOrder(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) ListCoinSettings(c *gin.Context) {
	settings, err := h.service.ListCoinSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"coins": settings})
}

type coinSettingReq struct {
	Symbol        string `json:"symbol" binding:"required"`
	BuyMarginPct  string `json:"buy_margin_pct" binding:"required"`
	SellMarginPct string `json:"sell_margin_pct" binding:"required"`
	Active        bool   `json:"active"`
}

func (h *Handler) SaveCoinSetting(c *gin.Context) {
	var req coinSettingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	buyMargin, err := decimal.NewFromString(req.BuyMarginPct)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid buy_margin_pct"})
		return
	}
	sellMargin, err := decimal.NewFromString(req.SellMarginPct)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sell_margin_pct"})
		return
	}

	setting := &domain.CoinSetting{
		Symbol:        req.Symbol,
		BuyMarginPct:  buyMargin,
		SellMarginPct: sellMargin,
		Active:        req.Active,
	}
	if err := h.service.SaveCoinSetting(c.Request.Context(), setting); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, setting)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, pricing.ErrAmountTooLow):
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount too low"})
	case errors.Is(err, domain.ErrUnsupportedCoin):
		c.JSON(http.StatusBadRequest, gin.H{"error": "coin not supported"})
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient balance"})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
