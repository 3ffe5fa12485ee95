// Package application 订单应用服务：买卖订单的全生命周期编排。
// 扣款与网关调用不在同一事务内，买单的每一条网关失败分支（含超时与 panic）
// 都必须走原额退款，保证资金只在订单在途期间被占用。
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	ledgerapp "github.com/davinsptra/cryptobroker/internal/ledger/application"
	ledgerdomain "github.com/davinsptra/cryptobroker/internal/ledger/domain"
	"github.com/davinsptra/cryptobroker/internal/notification"
	"github.com/davinsptra/cryptobroker/internal/order/domain"
	pricing "github.com/davinsptra/cryptobroker/internal/pricing/domain"
	"github.com/davinsptra/cryptobroker/internal/provider"
	"github.com/davinsptra/cryptobroker/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger 订单服务依赖的记账原语
type Ledger interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, m ledgerapp.Mutation) (string, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal, m ledgerapp.Mutation) (string, error)
	Settle(ctx context.Context, transactionID string, status ledgerdomain.EntryStatus) error
}

// Rates 订单服务依赖的行情查询
type Rates interface {
	GetFiatRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetNetwork(ctx context.Context, symbol, network string) (*provider.NetworkInfo, error)
}

// BonusPayer 订单完成后的推荐返利发放，发放失败不影响订单
type BonusPayer interface {
	PayBonus(ctx context.Context, refereeID, orderID string) error
}

// Config 订单业务配置
type Config struct {
	// 最低买入金额（法币）
	MinBuyAmount decimal.Decimal
	// 最低卖出所得（法币）
	MinSellProceeds decimal.Decimal
	// 币种未单独配置时的默认价差（百分比）
	DefaultMarginPct decimal.Decimal
	// 卖单入金窗口
	SellDepositWindow time.Duration
	// 买单报价有效期
	BuyOrderLifetime time.Duration
	// Webhook 回调地址
	CallbackURL string
}

// Service 订单应用服务
type Service struct {
	orders  domain.OrderRepository
	coins   domain.CoinSettingRepository
	ledger  Ledger
	rates   Rates
	gateway provider.Client
	events  notification.Publisher
	bonuses BonusPayer
	cfg     Config
}

// NewService 创建订单服务
func NewService(
	orders domain.OrderRepository,
	coins domain.CoinSettingRepository,
	ledger Ledger,
	rates Rates,
	gateway provider.Client,
	events notification.Publisher,
	cfg Config,
) *Service {
	return &Service{
		orders:  orders,
		coins:   coins,
		ledger:  ledger,
		rates:   rates,
		gateway: gateway,
		events:  events,
		cfg:     cfg,
	}
}

// WithBonusPayer 挂接推荐返利发放
func (s *Service) WithBonusPayer(bonuses BonusPayer) *Service {
	s.bonuses = bonuses
	return s
}

// payReferralBonus 订单完成后尝试发放返利，失败只记日志
func (s *Service) payReferralBonus(ctx context.Context, userID, orderID string) {
	if s.bonuses == nil {
		return
	}
	if err := s.bonuses.PayBonus(ctx, userID, orderID); err != nil {
		logger.Error(ctx, "referral bonus payout failed",
			"user_id", userID, "order_id", orderID, "error", err)
	}
}

// PlaceBuyOrder 买入：扣款 → 请求链上出金 → 完成；出金失败按原额退款。
func (s *Service) PlaceBuyOrder(ctx context.Context, userID, coinSymbol, network, walletAddress string, fiatAmount decimal.Decimal) (*domain.CryptoOrder, error) {
	if fiatAmount.LessThan(s.cfg.MinBuyAmount) {
		return nil, pricing.ErrAmountTooLow
	}

	margin, err := s.buyMargin(ctx, coinSymbol)
	if err != nil {
		return nil, err
	}

	rate, err := s.rates.GetFiatRate(ctx, coinSymbol)
	if err != nil {
		return nil, err
	}
	netInfo, err := s.rates.GetNetwork(ctx, coinSymbol, network)
	if err != nil {
		return nil, err
	}

	quote, err := pricing.QuoteBuy(fiatAmount, rate, margin, netInfo.WithdrawFee)
	if err != nil {
		return nil, err
	}

	order := &domain.CryptoOrder{
		OrderID:       newOrderID(),
		UserID:        userID,
		Side:          domain.SideBuy,
		CoinSymbol:    coinSymbol,
		Network:       netInfo.Network,
		CryptoAmount:  quote.CryptoOut,
		FiatAmount:    quote.TotalFiat,
		Rate:          quote.EffectiveRate,
		Margin:        margin,
		NetworkFee:    netInfo.WithdrawFee,
		WalletAddress: walletAddress,
		Status:        domain.StatusPending,
	}
	if s.cfg.BuyOrderLifetime > 0 {
		expiresAt := time.Now().Add(s.cfg.BuyOrderLifetime)
		order.ExpiresAt = &expiresAt
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	// 扣款，流水暂记 PENDING，出金结果决定其终态
	txID, err := s.ledger.Debit(ctx, userID, order.FiatAmount, ledgerapp.Mutation{
		Type:        ledgerdomain.EntryTypeBuy,
		Status:      ledgerdomain.EntryStatusPending,
		Description: fmt.Sprintf("Buy %s %s", order.CryptoAmount, coinSymbol),
		Metadata:    ledgerdomain.Metadata{"orderId": order.OrderID},
	})
	if err != nil {
		if cancelErr := order.Cancel("debit rejected"); cancelErr == nil {
			if saveErr := s.orders.Update(ctx, order); saveErr != nil {
				logger.Error(ctx, "failed to cancel unfunded buy order",
					"order_id", order.OrderID, "error", saveErr)
			}
		}
		return nil, err
	}

	if err := order.MarkProcessing(txID); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	payout, payoutErr := s.requestPayout(ctx, provider.PayoutRequest{
		Address:     walletAddress,
		Amount:      order.CryptoAmount,
		Currency:    coinSymbol,
		Network:     order.Network,
		Description: order.OrderID,
	})
	if payoutErr != nil {
		return nil, s.refundBuyOrder(ctx, order, payoutErr)
	}

	order.PayoutID = payout.PayoutID
	order.TxHash = payout.TxHash
	if err := order.Complete(); err != nil {
		return nil, err
	}
	if err := s.ledger.Settle(ctx, txID, ledgerdomain.EntryStatusCompleted); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	logger.Info(ctx, "buy order completed",
		"order_id", order.OrderID, "user_id", userID,
		"coin", coinSymbol, "fiat", order.FiatAmount.String(), "crypto", order.CryptoAmount.String())
	s.events.Publish(ctx, notification.TopicOrderEvents, notification.Event{
		Type: "order.completed", UserID: userID, RefID: order.OrderID,
	})
	s.payReferralBonus(ctx, userID, order.OrderID)
	return order, nil
}

// requestPayout 包住网关出金调用，panic 一律折算为错误，确保退款分支必达。
func (s *Service) requestPayout(ctx context.Context, req provider.PayoutRequest) (res *provider.PayoutResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: payout panicked: %v", provider.ErrUnavailable, r)
		}
	}()
	return s.gateway.CreatePayout(ctx, req)
}

// refundBuyOrder 出金失败：按扣款原额退款，同一条流水结算为 FAILED，订单转 FAILED。
func (s *Service) refundBuyOrder(ctx context.Context, order *domain.CryptoOrder, cause error) error {
	logger.Error(ctx, "payout failed, refunding buy order",
		"order_id", order.OrderID, "user_id", order.UserID, "error", cause)

	if _, err := s.ledger.Credit(ctx, order.UserID, order.FiatAmount, ledgerapp.Mutation{
		TransactionID: order.TransactionID,
		Status:        ledgerdomain.EntryStatusFailed,
	}); err != nil {
		// 退款失败必须人工介入，保留订单在 PROCESSING 供对账
		logger.Error(ctx, "refund failed, order needs manual reconciliation",
			"order_id", order.OrderID, "transaction_id", order.TransactionID, "error", err)
		return fmt.Errorf("order %s: refund after payout failure: %w", order.OrderID, err)
	}

	if err := order.Fail(cause.Error()); err != nil {
		return err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return err
	}

	s.events.Publish(ctx, notification.TopicOrderEvents, notification.Event{
		Type: "order.failed", UserID: order.UserID, RefID: order.OrderID,
	})
	return fmt.Errorf("order %s: payout failed: %w", order.OrderID, cause)
}

// QuoteBuyByCrypto 按加密货币数量预报价，返回应付法币总额，不落单。
func (s *Service) QuoteBuyByCrypto(ctx context.Context, coinSymbol, network string, cryptoAmount decimal.Decimal) (pricing.BuyQuote, error) {
	margin, err := s.buyMargin(ctx, coinSymbol)
	if err != nil {
		return pricing.BuyQuote{}, err
	}
	rate, err := s.rates.GetFiatRate(ctx, coinSymbol)
	if err != nil {
		return pricing.BuyQuote{}, err
	}
	netInfo, err := s.rates.GetNetwork(ctx, coinSymbol, network)
	if err != nil {
		return pricing.BuyQuote{}, err
	}
	return pricing.QuoteBuyByCrypto(cryptoAmount, rate, margin, netInfo.WithdrawFee)
}

// PlaceSellOrder 卖出：请求收款地址 → 等待链上入金；到账确认由回调驱动。
func (s *Service) PlaceSellOrder(ctx context.Context, userID, coinSymbol, network string, cryptoAmount decimal.Decimal) (*domain.CryptoOrder, error) {
	margin, err := s.sellMargin(ctx, coinSymbol)
	if err != nil {
		return nil, err
	}

	rate, err := s.rates.GetFiatRate(ctx, coinSymbol)
	if err != nil {
		return nil, err
	}
	netInfo, err := s.rates.GetNetwork(ctx, coinSymbol, network)
	if err != nil {
		return nil, err
	}

	quote, err := pricing.QuoteSell(cryptoAmount, rate, margin, s.cfg.MinSellProceeds)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.cfg.SellDepositWindow)
	order := &domain.CryptoOrder{
		OrderID:      newOrderID(),
		UserID:       userID,
		Side:         domain.SideSell,
		CoinSymbol:   coinSymbol,
		Network:      netInfo.Network,
		CryptoAmount: cryptoAmount.RoundBank(pricing.CryptoPrecision),
		FiatAmount:   quote.FiatOut,
		Rate:         quote.EffectiveRate,
		Margin:       margin,
		Status:       domain.StatusPending,
		ExpiresAt:    &expiresAt,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	payment, err := s.gateway.CreatePayment(ctx, provider.PaymentRequest{
		Amount:      order.CryptoAmount,
		Currency:    coinSymbol,
		Network:     order.Network,
		OrderID:     order.OrderID,
		CallbackURL: s.cfg.CallbackURL,
		Lifetime:    int(s.cfg.SellDepositWindow.Seconds()),
	})
	if err != nil {
		if failErr := order.Fail("payment address request failed"); failErr == nil {
			if saveErr := s.orders.Update(ctx, order); saveErr != nil {
				logger.Error(ctx, "failed to mark sell order failed",
					"order_id", order.OrderID, "error", saveErr)
			}
		}
		return nil, err
	}

	if err := order.MarkAwaitingCrypto(payment.TrackID, payment.Address); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	logger.Info(ctx, "sell order awaiting crypto",
		"order_id", order.OrderID, "user_id", userID,
		"coin", coinSymbol, "crypto", order.CryptoAmount.String(), "expires_at", expiresAt)
	return order, nil
}

// ConfirmSellDeposit 回调确认卖单入金：先完结订单，再入账 fiatOut。
// 已终态的订单直接返回 nil，并发重放最多产生一次入账。
func (s *Service) ConfirmSellDeposit(ctx context.Context, paymentID string) error {
	order, err := s.orders.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		logger.Info(ctx, "sell order already settled, ignoring duplicate confirmation",
			"order_id", order.OrderID, "status", order.Status)
		return nil
	}
	if order.Status != domain.StatusAwaitingCrypto {
		return fmt.Errorf("order %s in %s: %w", order.OrderID, order.Status, domain.ErrInvalidState)
	}

	// 入账前先条件更新抢占 AWAITING_CRYPTO → COMPLETED，
	// 同一回调并发重放只有一个赢家入账
	if err := order.Complete(); err != nil {
		return err
	}
	if err := s.orders.UpdateFrom(ctx, order, domain.StatusAwaitingCrypto); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			logger.Info(ctx, "sell order claimed by concurrent confirmation",
				"order_id", order.OrderID)
			return nil
		}
		return err
	}

	txID, err := s.ledger.Credit(ctx, order.UserID, order.FiatAmount, ledgerapp.Mutation{
		Type:        ledgerdomain.EntryTypeSell,
		Description: fmt.Sprintf("Sell %s %s", order.CryptoAmount, order.CoinSymbol),
		Metadata:    ledgerdomain.Metadata{"orderId": order.OrderID},
	})
	if err != nil {
		// 订单已完结但入账失败，需人工补账
		logger.Error(ctx, "sell credit failed after order completion",
			"order_id", order.OrderID, "user_id", order.UserID, "error", err)
		return err
	}

	order.TransactionID = txID
	if err := s.orders.Update(ctx, order); err != nil {
		logger.Error(ctx, "failed to link ledger transaction to sell order",
			"order_id", order.OrderID, "transaction_id", txID, "error", err)
	}

	logger.Info(ctx, "sell order completed",
		"order_id", order.OrderID, "user_id", order.UserID, "fiat", order.FiatAmount.String())
	s.events.Publish(ctx, notification.TopicOrderEvents, notification.Event{
		Type: "order.completed", UserID: order.UserID, RefID: order.OrderID,
	})
	s.payReferralBonus(ctx, order.UserID, order.OrderID)
	return nil
}

// ExpireSellOrder 卖单入金窗口关闭：取消订单，无任何账本影响。
// 已终态的订单直接返回 nil。
func (s *Service) ExpireSellOrder(ctx context.Context, paymentID string) error {
	order, err := s.orders.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return nil
	}
	prev := order.Status
	if err := order.Cancel("deposit window expired"); err != nil {
		return err
	}
	if err := s.orders.UpdateFrom(ctx, order, prev); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// 并发的入金确认赢了，过期作废
			return nil
		}
		return err
	}

	logger.Info(ctx, "sell order expired", "order_id", order.OrderID, "user_id", order.UserID)
	s.events.Publish(ctx, notification.TopicOrderEvents, notification.Event{
		Type: "order.expired", UserID: order.UserID, RefID: order.OrderID,
	})
	return nil
}

// SweepExpired 扫描并取消已过截止时间的等待入金卖单
func (s *Service) SweepExpired(ctx context.Context) error {
	orders, err := s.orders.FindExpired(ctx, time.Now(), 100)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if err := order.Cancel("deposit window expired"); err != nil {
			continue
		}
		if err := s.orders.UpdateFrom(ctx, order, domain.StatusAwaitingCrypto); err != nil {
			if !errors.Is(err, domain.ErrInvalidState) {
				logger.Error(ctx, "failed to cancel expired order", "order_id", order.OrderID, "error", err)
			}
			continue
		}
		logger.Info(ctx, "expired sell order cancelled", "order_id", order.OrderID)
		s.events.Publish(ctx, notification.TopicOrderEvents, notification.Event{
			Type: "order.expired", UserID: order.UserID, RefID: order.OrderID,
		})
	}
	return nil
}

// RunExpirySweep 周期执行过期订单扫描，直到上下文取消
func (s *Service) RunExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info(ctx, "order expiry sweep started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "order expiry sweep stopped")
			return
		case <-ticker.C:
			if err := s.SweepExpired(ctx); err != nil {
				logger.Error(ctx, "expiry sweep failed", "error", err)
			}
		}
	}
}

// GetOrder 查询用户自己的订单
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*domain.CryptoOrder, error) {
	order, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

// ListOrders 分页查询用户订单
func (s *Service) ListOrders(ctx context.Context, userID string, limit, offset int) ([]*domain.CryptoOrder, int64, error) {
	return s.orders.ListByUser(ctx, userID, limit, offset)
}

// ListCoinSettings 查询币种交易参数
func (s *Service) ListCoinSettings(ctx context.Context) ([]*domain.CoinSetting, error) {
	return s.coins.List(ctx)
}

// SaveCoinSetting 更新币种交易参数（管理端）
func (s *Service) SaveCoinSetting(ctx context.Context, setting *domain.CoinSetting) error {
	return s.coins.Save(ctx, setting)
}

func (s *Service) buyMargin(ctx context.Context, symbol string) (decimal.Decimal, error) {
	setting, err := s.coins.Get(ctx, symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return s.cfg.DefaultMarginPct, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !setting.Active {
		return decimal.Zero, domain.ErrUnsupportedCoin
	}
	return setting.BuyMarginPct, nil
}

func (s *Service) sellMargin(ctx context.Context, symbol string) (decimal.Decimal, error) {
	setting, err := s.coins.Get(ctx, symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return s.cfg.DefaultMarginPct, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !setting.Active {
		return decimal.Zero, domain.ErrUnsupportedCoin
	}
	return setting.SellMarginPct, nil
}

func newOrderID() string {
	return "ORD-" + uuid.NewString()
}
