// Package domain 订单领域模型：买卖订单的状态机与币种交易参数。
// 订单行记录一次买入或卖出尝试的完整报价快照，状态迁移全部经过前置校验。
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrNotFound 订单不存在
	ErrNotFound = errors.New("order: not found")
	// ErrInvalidState 状态迁移不合法
	ErrInvalidState = errors.New("order: invalid state transition")
	// ErrUnsupportedCoin 币种未开放交易
	ErrUnsupportedCoin = errors.New("order: unsupported coin")
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status 订单状态
type Status string

const (
	// StatusPending 订单已创建，资金尚未占用
	StatusPending Status = "PENDING"
	// StatusProcessing 买单已扣款，出金请求进行中
	StatusProcessing Status = "PROCESSING"
	// StatusAwaitingCrypto 卖单已拿到收款地址，等待链上入金确认
	StatusAwaitingCrypto Status = "AWAITING_CRYPTO"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusCancelled      Status = "CANCELLED"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CryptoOrder 买卖订单。创建时固化报价快照，此后只有状态与外部关联字段变化。
type CryptoOrder struct {
	gorm.Model
	// 订单号（业务主键）
	OrderID string `gorm:"column:order_id;type:varchar(40);uniqueIndex;not null" json:"order_id"`
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	// 方向
	Side Side `gorm:"column:side;type:varchar(8);not null" json:"side"`
	// 币种
	CoinSymbol string `gorm:"column:coin_symbol;type:varchar(16);not null" json:"coin_symbol"`
	// 链
	Network string `gorm:"column:network;type:varchar(32)" json:"network"`
	// 加密货币数量
	CryptoAmount decimal.Decimal `gorm:"column:crypto_amount;type:decimal(30,8);not null" json:"crypto_amount"`
	// 法币金额
	FiatAmount decimal.Decimal `gorm:"column:fiat_amount;type:decimal(20,2);not null" json:"fiat_amount"`
	// 成交汇率（加价/减价后）
	Rate decimal.Decimal `gorm:"column:rate;type:decimal(30,8);not null" json:"rate"`
	// 价差（百分比）
	Margin decimal.Decimal `gorm:"column:margin;type:decimal(10,4);not null" json:"margin"`
	// 网络手续费（币）
	NetworkFee decimal.Decimal `gorm:"column:network_fee;type:decimal(30,8)" json:"network_fee"`
	// 买单收币地址
	WalletAddress string `gorm:"column:wallet_address;type:varchar(128)" json:"wallet_address,omitempty"`
	// 卖单入金地址
	DepositAddress string `gorm:"column:deposit_address;type:varchar(128)" json:"deposit_address,omitempty"`
	// 状态
	Status Status `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// 卖单入金截止时间
	ExpiresAt *time.Time `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	// 网关收款流水号（卖单）
	PaymentID string `gorm:"column:payment_id;type:varchar(64);index" json:"payment_id,omitempty"`
	// 网关出金流水号（买单）
	PayoutID string `gorm:"column:payout_id;type:varchar(64);index" json:"payout_id,omitempty"`
	// 链上交易哈希
	TxHash string `gorm:"column:tx_hash;type:varchar(128)" json:"tx_hash,omitempty"`
	// 关联的账本流水 ID
	TransactionID string `gorm:"column:transaction_id;type:varchar(40)" json:"transaction_id,omitempty"`
	// 失败原因
	FailReason string `gorm:"column:fail_reason;type:varchar(255)" json:"fail_reason,omitempty"`
}

func (CryptoOrder) TableName() string { return "crypto_orders" }

// MarkProcessing 买单扣款成功后进入出金流程
func (o *CryptoOrder) MarkProcessing(transactionID string) error {
	if o.Status != StatusPending {
		return ErrInvalidState
	}
	o.Status = StatusProcessing
	o.TransactionID = transactionID
	return nil
}

// MarkAwaitingCrypto 卖单拿到收款地址，进入等待入金
func (o *CryptoOrder) MarkAwaitingCrypto(paymentID, depositAddress string) error {
	if o.Status != StatusPending {
		return ErrInvalidState
	}
	o.Status = StatusAwaitingCrypto
	o.PaymentID = paymentID
	o.DepositAddress = depositAddress
	return nil
}

// Complete 订单完成
func (o *CryptoOrder) Complete() error {
	switch o.Status {
	case StatusProcessing, StatusAwaitingCrypto:
		o.Status = StatusCompleted
		return nil
	default:
		return ErrInvalidState
	}
}

// Fail 订单失败
func (o *CryptoOrder) Fail(reason string) error {
	if o.Status.Terminal() {
		return ErrInvalidState
	}
	o.Status = StatusFailed
	o.FailReason = reason
	return nil
}

// Cancel 订单取消（过期或用户主动），只允许从未占用资金的状态发起
func (o *CryptoOrder) Cancel(reason string) error {
	switch o.Status {
	case StatusPending, StatusAwaitingCrypto:
		o.Status = StatusCancelled
		o.FailReason = reason
		return nil
	default:
		return ErrInvalidState
	}
}

// CoinSetting 币种交易参数，由运营维护
type CoinSetting struct {
	gorm.Model
	// 币种
	Symbol string `gorm:"column:symbol;type:varchar(16);uniqueIndex;not null" json:"symbol"`
	// 买入价差（百分比）
	BuyMarginPct decimal.Decimal `gorm:"column:buy_margin_pct;type:decimal(10,4);not null" json:"buy_margin_pct"`
	// 卖出价差（百分比）
	SellMarginPct decimal.Decimal `gorm:"column:sell_margin_pct;type:decimal(10,4);not null" json:"sell_margin_pct"`
	// 是否开放交易
	Active bool `gorm:"column:active;not null;default:true" json:"active"`
}

func (CoinSetting) TableName() string { return "coin_settings" }

// OrderRepository 订单仓储接口
type OrderRepository interface {
	Create(ctx context.Context, order *CryptoOrder) error
	Update(ctx context.Context, order *CryptoOrder) error
	// UpdateFrom 仅当存储中状态仍为 from 时保存，否则返回 ErrInvalidState。
	// 回调重放与过期扫描的并发竞争靠它决出唯一赢家。
	UpdateFrom(ctx context.Context, order *CryptoOrder, from Status) error
	// GetByOrderID 按订单号查询
	GetByOrderID(ctx context.Context, orderID string) (*CryptoOrder, error)
	// FindByPaymentID 按网关收款流水号查询（回调关联）
	FindByPaymentID(ctx context.Context, paymentID string) (*CryptoOrder, error)
	// FindByPayoutID 按网关出金流水号查询（回调关联）
	FindByPayoutID(ctx context.Context, payoutID string) (*CryptoOrder, error)
	// ListByUser 按用户分页查询
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*CryptoOrder, int64, error)
	// FindExpired 查询已过截止时间、仍在等待入金的卖单
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*CryptoOrder, error)
}

// CoinSettingRepository 币种参数仓储接口
type CoinSettingRepository interface {
	Get(ctx context.Context, symbol string) (*CoinSetting, error)
	List(ctx context.Context) ([]*CoinSetting, error)
	Save(ctx context.Context, setting *CoinSetting) error
}
