// Package application 行情服务：现货汇率查询与短 TTL 缓存。
// 汇率以美元计价从网关获取，折算为法币后缓存，下单路径不直接打网关。
package application

import (
	"context"
	"errors"
	"time"

	"github.com/davinsptra/cryptobroker/internal/provider"
	"github.com/davinsptra/cryptobroker/pkg/cache"
	"github.com/davinsptra/cryptobroker/pkg/logger"
	"github.com/shopspring/decimal"
)

// Config 行情服务配置
type Config struct {
	// 美元兑法币汇率
	FiatPerUSD decimal.Decimal
	// 缓存有效期
	CacheTTL time.Duration
}

// Service 行情服务
type Service struct {
	gateway provider.Client
	store   cache.Store
	cfg     Config
}

// NewService 创建行情服务
func NewService(gateway provider.Client, store cache.Store, cfg Config) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Service{gateway: gateway, store: store, cfg: cfg}
}

// GetFiatRate 查询币种兑法币的现货汇率。
// 先走缓存；未命中时从网关取美元报价并折算，写回缓存。
func (s *Service) GetFiatRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := "rate:fiat:" + symbol

	var cached decimal.Decimal
	if err := s.store.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		// 缓存故障降级为直连网关
		logger.Warn(ctx, "rate cache read failed", "symbol", symbol, "error", err)
	}

	usd, err := s.gateway.GetSpotRate(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	rate := usd.Mul(s.cfg.FiatPerUSD)

	if err := s.store.Set(ctx, key, rate, s.cfg.CacheTTL); err != nil {
		logger.Warn(ctx, "rate cache write failed", "symbol", symbol, "error", err)
	}
	return rate, nil
}

// ListCurrencies 查询支持的币种及链参数
func (s *Service) ListCurrencies(ctx context.Context) ([]provider.CurrencyInfo, error) {
	key := "rate:currencies"

	var cached []provider.CurrencyInfo
	if err := s.store.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	currencies, err := s.gateway.GetSupportedCurrencies(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, key, currencies, 5*time.Minute); err != nil {
		logger.Warn(ctx, "currency cache write failed", "error", err)
	}
	return currencies, nil
}

// GetNetwork 查询币种指定链的参数；network 为空时取第一条可用链
func (s *Service) GetNetwork(ctx context.Context, symbol, network string) (*provider.NetworkInfo, error) {
	networks, err := s.gateway.GetCoinNetworks(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(networks) == 0 {
		return nil, &provider.CallError{Op: "currencies", Message: "no network for " + symbol}
	}
	if network == "" {
		return &networks[0], nil
	}
	for i := range networks {
		if networks[i].Network == network {
			return &networks[i], nil
		}
	}
	return nil, &provider.CallError{Op: "currencies", Message: "unknown network " + network + " for " + symbol}
}
