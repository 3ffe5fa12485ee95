// Package http 资金接口：充值、提现与管理端审批。
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/davinsptra/cryptobroker/internal/funding/application"
	"github.com/davinsptra/cryptobroker/internal/funding/domain"
	ledgerdomain "github.com/davinsptra/cryptobroker/internal/ledger/domain"
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
	g := r.Group("/deposits")
	{
		g.POST("", h.CreateDeposit)
		g.GET("", h.ListDeposits)
	}
	w := r.Group("/withdrawals")
	{
		w.POST("", h.CreateWithdrawal)
		w.GET("", h.ListWithdrawals)
	}
}

// RegisterAdminRoutes 管理端审批路由
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	d := r.Group("/deposits")
	{
		d.GET("/pending", h.ListPendingDeposits)
		d.POST("/:id/approve", h.ApproveDeposit)
		d.POST("/:id/reject", h.RejectDeposit)
	}
	w := r.Group("/withdrawals")
	{
		w.GET("/pending", h.ListPendingWithdrawals)
		w.POST("/:id/approve", h.ApproveWithdrawal)
		w.POST("/:id/reject", h.RejectWithdrawal)
	}
}

type createDepositReq struct {
	Amount        string `json:"amount" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	InvoiceID     string `json:"invoice_id"`
}

func (h *Handler) CreateDeposit(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req createDepositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	deposit, err := h.service.CreateDeposit(c.Request.Context(), userID, amount, req.PaymentMethod, req.InvoiceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, deposit)
}

func (h *Handler) ListDeposits(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	deposits, total, err := h.service.ListDeposits(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "deposits": deposits})
}

type createWithdrawalReq struct {
	Amount        string `json:"amount" binding:"required"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	EwalletType   string `json:"ewallet_type"`
	EwalletNumber string `json:"ewallet_number"`
}

func (h *Handler) CreateWithdrawal(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req createWithdrawalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	withdrawal, err := h.service.CreateWithdrawal(c.Request.Context(), userID, amount, application.WithdrawalDestination{
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		EwalletType:   req.EwalletType,
		EwalletNumber: req.EwalletNumber,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, withdrawal)
}

func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	withdrawals, total, err := h.service.ListWithdrawals(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "withdrawals": withdrawals})
}

func (h *Handler) ListPendingDeposits(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	deposits, total, err := h.service.ListPendingDeposits(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "deposits": deposits})
}

type reviewReq struct {
	Note string `json:"note"`
}

func (h *Handler) ApproveDeposit(c *gin.Context) {
	var req reviewReq
	_ = c.ShouldBindJSON(&req)

	deposit, err := h.service.ApproveDeposit(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deposit)
}

func (h *Handler) RejectDeposit(c *gin.Context) {
	var req reviewReq
	_ = c.ShouldBindJSON(&req)

	deposit, err := h.service.RejectDeposit(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deposit)
}

func (h *Handler) ListPendingWithdrawals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	withdrawals, total, err := h.service.ListPendingWithdrawals(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "withdrawals": withdrawals})
}

func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	var req reviewReq
	_ = c.ShouldBindJSON(&req)

	withdrawal, err := h.service.ApproveWithdrawal(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawal)
}

func (h *Handler) RejectWithdrawal(c *gin.Context) {
	var req reviewReq
	_ = c.ShouldBindJSON(&req)

	withdrawal, err := h.service.RejectWithdrawal(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawal)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrAmountTooLow):
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount below minimum"})
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient balance"})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
