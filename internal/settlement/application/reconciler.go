// Package application 回调对账：外部网关事件的唯一入口。
// 严格按序执行：验签 → 解析关联号 → 幂等检查 → 应用状态迁移。
// 同一事件重放最多产生一次账本变更。
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	funddomain "github.com/davinsptra/cryptobroker/internal/funding/domain"
	orderdomain "github.com/davinsptra/cryptobroker/internal/order/domain"
	"github.com/davinsptra/cryptobroker/internal/provider"
	"github.com/davinsptra/cryptobroker/pkg/logger"
)

var (
	// ErrMissingTrackID 报文缺少关联号
	ErrMissingTrackID = errors.New("settlement: missing trackId")
	// ErrBadPayload 报文不是合法 JSON
	ErrBadPayload = errors.New("settlement: malformed payload")
)

// Orders 卖单回调处理
type Orders interface {
	ConfirmSellDeposit(ctx context.Context, paymentID string) error
	ExpireSellOrder(ctx context.Context, paymentID string) error
}

// Deposits 充值账单回调处理
type Deposits interface {
	ConfirmDepositByInvoice(ctx context.Context, invoiceID string) error
	CancelDepositByInvoice(ctx context.Context, invoiceID string) error
}

// Verifier 回调验签
type Verifier interface {
	VerifyWebhook(payload []byte, signature string) error
}

// event 网关回调报文中对账需要的字段
type event struct {
	TrackID string `json:"trackId"`
	Status  string `json:"status"`
	OrderID string `json:"orderId"`
	Type    string `json:"type"`
}

// Reconciler 回调对账器
type Reconciler struct {
	verifier Verifier
	orders   Orders
	deposits Deposits
}

// NewReconciler 创建对账器
func NewReconciler(verifier Verifier, orders Orders, deposits Deposits) *Reconciler {
	return &Reconciler{verifier: verifier, orders: orders, deposits: deposits}
}

// Handle 处理一条网关回调。
// 返回 provider.ErrBadSignature / ErrMissingTrackID / ErrBadPayload 由上层映射为 4xx。
func (r *Reconciler) Handle(ctx context.Context, body []byte, signature string) error {
	if err := r.verifier.VerifyWebhook(body, signature); err != nil {
		return err
	}

	var evt event
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if evt.TrackID == "" {
		return ErrMissingTrackID
	}

	logger.Info(ctx, "webhook received",
		"track_id", evt.TrackID, "status", evt.Status, "order_id", evt.OrderID, "type", evt.Type)

	switch strings.ToLower(evt.Status) {
	case "paid", "confirmed":
		return r.applyPaid(ctx, evt.TrackID)
	case "confirming", "waiting":
		// 链上确认中，不做账务处理
		return nil
	case "expired", "failed":
		return r.applyExpired(ctx, evt.TrackID)
	default:
		logger.Info(ctx, "webhook status ignored", "track_id", evt.TrackID, "status", evt.Status)
		return nil
	}
}

// applyPaid 入金确认：先按卖单收款号关联，再按充值账单号关联。
// 两边都查不到说明关联号不属于本系统，记日志后 ack，避免网关无限重发。
func (r *Reconciler) applyPaid(ctx context.Context, trackID string) error {
	err := r.orders.ConfirmSellDeposit(ctx, trackID)
	if !errors.Is(err, orderdomain.ErrNotFound) {
		return err
	}

	err = r.deposits.ConfirmDepositByInvoice(ctx, trackID)
	if errors.Is(err, funddomain.ErrNotFound) {
		logger.Warn(ctx, "webhook trackId matches nothing", "track_id", trackID)
		return nil
	}
	return err
}

func (r *Reconciler) applyExpired(ctx context.Context, trackID string) error {
	err := r.orders.ExpireSellOrder(ctx, trackID)
	if !errors.Is(err, orderdomain.ErrNotFound) {
		return err
	}

	err = r.deposits.CancelDepositByInvoice(ctx, trackID)
	if errors.Is(err, funddomain.ErrNotFound) {
		logger.Warn(ctx, "webhook trackId matches nothing", "track_id", trackID)
		return nil
	}
	return err
}

// 编译期确认 Oxapay 客户端满足验签接口
var _ Verifier = (provider.Client)(nil)
