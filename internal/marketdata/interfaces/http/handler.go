// Package http 行情查询接口。
package http

import (
	"errors"
	"net/http"

	"github.com/davinsptra/cryptobroker/internal/marketdata/application"
	"github.com/davinsptra/cryptobroker/internal/provider"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rates/:symbol", h.GetRate)
	r.GET("/currencies", h.ListCurrencies)
}

func (h *Handler) GetRate(c *gin.Context) {
	symbol := c.Param("symbol")
	rate, err := h.service.GetFiatRate(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, provider.ErrUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "rate source unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "rate": rate})
}

func (h *Handler) ListCurrencies(c *gin.Context) {
	currencies, err := h.service.ListCurrencies(c.Request.Context())
	if err != nil {
		if errors.Is(err, provider.ErrUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "rate source unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"currencies": currencies})
}
