// Package provider 定义支付/加密网络网关的窄接口。
// 结算核心只通过该接口与外部网关交互：创建出金、创建收款、查询汇率、验签回调。
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable 网关调用失败或超时
	ErrUnavailable = errors.New("provider: unavailable")
	// ErrBadSignature 回调签名不合法
	ErrBadSignature = errors.New("provider: bad webhook signature")
)

// CallError 网关返回的业务错误
type CallError struct {
	Op      string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider: %s failed: %s", e.Op, e.Message)
}

func (e *CallError) Unwrap() error { return ErrUnavailable }

// PayoutResult 出金结果
type PayoutResult struct {
	// 网关侧出金流水号
	PayoutID string
	// 链上交易哈希
	TxHash string
}

// PaymentResult 收款结果（带金额与有效期的收款地址）
type PaymentResult struct {
	// 网关侧收款流水号，回调以此关联
	TrackID string
	// 收款地址
	Address string
}

// NetworkInfo 币种在某条链上的参数
type NetworkInfo struct {
	Network     string
	Name        string
	WithdrawFee decimal.Decimal
	WithdrawMin decimal.Decimal
	DepositMin  decimal.Decimal
}

// CurrencyInfo 支持的币种
type CurrencyInfo struct {
	Symbol   string
	Name     string
	Networks []NetworkInfo
}

// PaymentRequest 创建收款请求
type PaymentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Network     string
	OrderID     string
	CallbackURL string
	Description string
	// 收款有效期（秒）
	Lifetime int
}

// PayoutRequest 创建出金请求
type PayoutRequest struct {
	Address     string
	Amount      decimal.Decimal
	Currency    string
	Network     string
	Description string
}

// Client 支付网关客户端。
// CreatePayout 是至多一次的副作用调用，不做自动重试；其余均为可安全重试的读操作。
type Client interface {
	// CreatePayout 发起链上出金
	CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	// CreatePayment 创建带金额与有效期的收款地址
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	// GetSpotRate 查询币种的美元现货汇率
	GetSpotRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetSupportedCurrencies 查询支持的币种列表
	GetSupportedCurrencies(ctx context.Context) ([]CurrencyInfo, error)
	// GetCoinNetworks 查询币种可用的链及其费用参数
	GetCoinNetworks(ctx context.Context, symbol string) ([]NetworkInfo, error)
	// GetPaymentStatus 查询收款状态
	GetPaymentStatus(ctx context.Context, trackID string) (string, error)
	// VerifyWebhook 校验回调签名
	VerifyWebhook(payload []byte, signature string) error
}
