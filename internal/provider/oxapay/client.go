// Package oxapay Oxapay 支付网关客户端实现。
package oxapay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davinsptra/cryptobroker/internal/provider"
	"github.com/davinsptra/cryptobroker/pkg/logger"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Config 客户端配置
type Config struct {
	BaseURL string
	// 收款 API Key
	MerchantAPIKey string
	// 出金 API Key
	PayoutAPIKey string
	// 回调验签密钥
	WebhookSecret string
	// 请求超时（秒）
	RequestTimeout int
}

// Client Oxapay 客户端
type Client struct {
	http          *resty.Client
	merchantKey   string
	payoutKey     string
	webhookSecret string
}

// envelope Oxapay 统一响应包：status == 200 表示成功
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// New 创建 Oxapay 客户端
func New(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(timeout) * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:          httpClient,
		merchantKey:   cfg.MerchantAPIKey,
		payoutKey:     cfg.PayoutAPIKey,
		webhookSecret: cfg.WebhookSecret,
	}
}

func (c *Client) post(ctx context.Context, path, apiKey string, body any, out any) error {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("merchant_api_key", apiKey).
		SetBody(body).
		SetResult(&env).
		ForceContentType("application/json").
		Post(path)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	if env.Status != 200 {
		return &provider.CallError{Op: path, Message: callMessage(env, resp.StatusCode())}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: decode %s response: %v", provider.ErrUnavailable, path, err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("merchant_api_key", c.merchantKey).
		SetResult(&env).
		ForceContentType("application/json").
		Get(path)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	if env.Status != 200 {
		return &provider.CallError{Op: path, Message: callMessage(env, resp.StatusCode())}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: decode %s response: %v", provider.ErrUnavailable, path, err)
		}
	}
	return nil
}

func callMessage(env envelope, httpStatus int) string {
	if env.Message != "" {
		return env.Message
	}
	return fmt.Sprintf("status %d (http %d)", env.Status, httpStatus)
}

// CreatePayout 发起链上出金。至多一次，不重试：重复提交会造成双重出金。
func (c *Client) CreatePayout(ctx context.Context, req provider.PayoutRequest) (*provider.PayoutResult, error) {
	body := map[string]any{
		"address":  req.Address,
		"amount":   json.Number(req.Amount.String()),
		"currency": req.Currency,
		"network":  req.Network,
	}
	if req.Description != "" {
		body["description"] = req.Description
	}

	var data struct {
		TrackID string `json:"trackId"`
		TxHash  string `json:"txHash"`
	}
	if err := c.post(ctx, "/v1/payout/create", c.payoutKey, body, &data); err != nil {
		return nil, err
	}
	return &provider.PayoutResult{PayoutID: data.TrackID, TxHash: data.TxHash}, nil
}

// CreatePayment 创建带金额与有效期的收款地址
func (c *Client) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentResult, error) {
	lifetime := req.Lifetime
	if lifetime <= 0 {
		lifetime = 3600
	}
	body := map[string]any{
		"amount":      json.Number(req.Amount.String()),
		"currency":    req.Currency,
		"network":     req.Network,
		"orderId":     req.OrderID,
		"callbackUrl": req.CallbackURL,
		"lifeTime":    lifetime,
	}
	if req.Description != "" {
		body["description"] = req.Description
	}

	var data struct {
		TrackID string `json:"trackId"`
		Address string `json:"address"`
	}
	if err := c.post(ctx, "/v1/payment/create", c.merchantKey, body, &data); err != nil {
		return nil, err
	}
	return &provider.PaymentResult{TrackID: data.TrackID, Address: data.Address}, nil
}

// GetSpotRate 查询币种的美元现货汇率
func (c *Client) GetSpotRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var prices map[string]decimal.Decimal
	if err := c.get(ctx, "/v1/common/prices", &prices); err != nil {
		return decimal.Zero, err
	}
	rate, ok := prices[symbol]
	if !ok || rate.IsZero() {
		return decimal.Zero, &provider.CallError{Op: "prices", Message: "no rate for " + symbol}
	}
	return rate, nil
}

type rawNetwork struct {
	Network     string          `json:"network"`
	Name        string          `json:"name"`
	WithdrawFee decimal.Decimal `json:"withdraw_fee"`
	WithdrawMin decimal.Decimal `json:"withdraw_min"`
	DepositMin  decimal.Decimal `json:"deposit_min"`
}

type rawCurrency struct {
	Name     string                `json:"name"`
	Networks map[string]rawNetwork `json:"networks"`
}

// 平台放行的币种白名单
var supportedSymbols = []string{"BTC", "ETH", "BNB", "SOL", "USDT", "USDC"}

// GetSupportedCurrencies 查询支持的币种列表
func (c *Client) GetSupportedCurrencies(ctx context.Context) ([]provider.CurrencyInfo, error) {
	var currencies map[string]rawCurrency
	if err := c.get(ctx, "/v1/common/currencies", &currencies); err != nil {
		return nil, err
	}

	var out []provider.CurrencyInfo
	for _, symbol := range supportedSymbols {
		cur, ok := currencies[symbol]
		if !ok {
			continue
		}
		out = append(out, provider.CurrencyInfo{
			Symbol:   symbol,
			Name:     cur.Name,
			Networks: toNetworks(cur.Networks),
		})
	}
	return out, nil
}

// GetCoinNetworks 查询币种可用的链及其费用参数
func (c *Client) GetCoinNetworks(ctx context.Context, symbol string) ([]provider.NetworkInfo, error) {
	var currencies map[string]rawCurrency
	if err := c.get(ctx, "/v1/common/currencies", &currencies); err != nil {
		return nil, err
	}
	cur, ok := currencies[symbol]
	if !ok {
		return nil, &provider.CallError{Op: "currencies", Message: "unknown symbol " + symbol}
	}
	return toNetworks(cur.Networks), nil
}

func toNetworks(raw map[string]rawNetwork) []provider.NetworkInfo {
	var out []provider.NetworkInfo
	for key, n := range raw {
		network := n.Network
		if network == "" {
			network = key
		}
		name := n.Name
		if name == "" {
			name = key
		}
		out = append(out, provider.NetworkInfo{
			Network:     network,
			Name:        name,
			WithdrawFee: n.WithdrawFee,
			WithdrawMin: n.WithdrawMin,
			DepositMin:  n.DepositMin,
		})
	}
	return out
}

// GetPaymentStatus 查询收款状态
func (c *Client) GetPaymentStatus(ctx context.Context, trackID string) (string, error) {
	var data struct {
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/v1/payment/info", c.merchantKey, map[string]any{"trackId": trackID}, &data); err != nil {
		return "", err
	}
	return data.Status, nil
}

// VerifyWebhook 校验回调签名。
// 未配置密钥时跳过校验，只用于本地开发环境。
func (c *Client) VerifyWebhook(payload []byte, signature string) error {
	if c.webhookSecret == "" {
		logger.Warn(context.Background(), "webhook secret not configured, skipping signature verification")
		return nil
	}
	return VerifySignature(c.webhookSecret, payload, signature)
}
