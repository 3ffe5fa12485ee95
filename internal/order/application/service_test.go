package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	ledgerapp "github.com/davinsptra/cryptobroker/internal/ledger/application"
	ledgerdomain "github.com/davinsptra/cryptobroker/internal/ledger/domain"
	"github.com/davinsptra/cryptobroker/internal/notification"
	"github.com/davinsptra/cryptobroker/internal/order/domain"
	pricing "github.com/davinsptra/cryptobroker/internal/pricing/domain"
	"github.com/davinsptra/cryptobroker/internal/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*domain.CryptoOrder
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[string]*domain.CryptoOrder{}}
}

func (s *memOrders) Create(ctx context.Context, order *domain.CryptoOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

func (s *memOrders) Update(ctx context.Context, order *domain.CryptoOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

// UpdateFrom 与 MySQL 实现一致：状态不再是 from 时拒绝落盘。
func (s *memOrders) UpdateFrom(ctx context.Context, order *domain.CryptoOrder, from domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[order.OrderID]
	if !ok || cur.Status != from {
		return domain.ErrInvalidState
	}
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

func (s *memOrders) GetByOrderID(ctx context.Context, orderID string) (*domain.CryptoOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *memOrders) FindByPaymentID(ctx context.Context, paymentID string) (*domain.CryptoOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.PaymentID == paymentID {
			cp := *order
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memOrders) FindByPayoutID(ctx context.Context, payoutID string) (*domain.CryptoOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.PayoutID == payoutID {
			cp := *order
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memOrders) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.CryptoOrder, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CryptoOrder
	for _, order := range s.orders {
		if order.UserID == userID {
			cp := *order
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (s *memOrders) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.CryptoOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CryptoOrder
	for _, order := range s.orders {
		if order.Status == domain.StatusAwaitingCrypto && order.ExpiresAt != nil && order.ExpiresAt.Before(now) {
			cp := *order
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memCoins struct {
	settings map[string]*domain.CoinSetting
}

func (s *memCoins) Get(ctx context.Context, symbol string) (*domain.CoinSetting, error) {
	setting, ok := s.settings[symbol]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return setting, nil
}

func (s *memCoins) List(ctx context.Context) ([]*domain.CoinSetting, error) { return nil, nil }
func (s *memCoins) Save(ctx context.Context, setting *domain.CoinSetting) error {
	s.settings[setting.Symbol] = setting
	return nil
}

// fakeLedger 复刻账本服务的对外语义：扣款前置校验、PENDING 流水结算一次。
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	txStatus map[string]ledgerdomain.EntryStatus
	seq      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: map[string]decimal.Decimal{},
		txStatus: map[string]ledgerdomain.EntryStatus{},
	}
}

func (l *fakeLedger) apply(userID string, delta decimal.Decimal, m ledgerapp.Mutation) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.balances[userID].Add(delta)
	if next.IsNegative() {
		return "", ledgerdomain.ErrInsufficientFunds
	}
	l.balances[userID] = next

	status := m.Status
	if status == "" {
		status = ledgerdomain.EntryStatusCompleted
	}
	if m.TransactionID != "" {
		if l.txStatus[m.TransactionID] != ledgerdomain.EntryStatusPending {
			return "", ledgerdomain.ErrInvalidState
		}
		l.txStatus[m.TransactionID] = status
		return m.TransactionID, nil
	}

	l.seq++
	id := fmt.Sprintf("TX-%d", l.seq)
	l.txStatus[id] = status
	return id, nil
}

func (l *fakeLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, m ledgerapp.Mutation) (string, error) {
	return l.apply(userID, amount, m)
}

func (l *fakeLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal, m ledgerapp.Mutation) (string, error) {
	return l.apply(userID, amount.Neg(), m)
}

func (l *fakeLedger) Settle(ctx context.Context, transactionID string, status ledgerdomain.EntryStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txStatus[transactionID] != ledgerdomain.EntryStatusPending {
		return ledgerdomain.ErrInvalidState
	}
	l.txStatus[transactionID] = status
	return nil
}

type fakeRates struct {
	rates map[string]decimal.Decimal
	fee   decimal.Decimal
}

func (r *fakeRates) GetFiatRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rate, ok := r.rates[symbol]
	if !ok {
		return decimal.Zero, provider.ErrUnavailable
	}
	return rate, nil
}

func (r *fakeRates) GetNetwork(ctx context.Context, symbol, network string) (*provider.NetworkInfo, error) {
	return &provider.NetworkInfo{Network: "Bitcoin", WithdrawFee: r.fee}, nil
}

type fakeGateway struct {
	provider.Client
	payoutErr   error
	payoutPanic bool
	payoutCalls int
	paymentErr  error
}

func (g *fakeGateway) CreatePayout(ctx context.Context, req provider.PayoutRequest) (*provider.PayoutResult, error) {
	g.payoutCalls++
	if g.payoutPanic {
		panic("gateway client bug")
	}
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	return &provider.PayoutResult{PayoutID: "po-1", TxHash: "0xdeadbeef"}, nil
}

func (g *fakeGateway) CreatePayment(ctx context.Context, req provider.PaymentRequest) (*provider.PaymentResult, error) {
	if g.paymentErr != nil {
		return nil, g.paymentErr
	}
	return &provider.PaymentResult{TrackID: "pay-1", Address: "deposit-addr"}, nil
}

type fixture struct {
	svc     *Service
	orders  *memOrders
	ledger  *fakeLedger
	gateway *fakeGateway
}

func newFixture() *fixture {
	orders := newMemOrders()
	ledger := newFakeLedger()
	gateway := &fakeGateway{}
	rates := &fakeRates{rates: map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(1000000),
	}}
	svc := NewService(
		orders,
		&memCoins{settings: map[string]*domain.CoinSetting{}},
		ledger,
		rates,
		gateway,
		notification.NoopPublisher{},
		Config{
			MinBuyAmount:      decimal.NewFromInt(10000),
			MinSellProceeds:   decimal.NewFromInt(10000),
			DefaultMarginPct:  decimal.NewFromInt(2),
			SellDepositWindow: time.Hour,
			CallbackURL:       "https://broker.example/webhook/oxapay",
		},
	)
	return &fixture{svc: svc, orders: orders, ledger: ledger, gateway: gateway}
}

func TestPlaceBuyOrderCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.ledger.balances["u1"] = decimal.NewFromInt(100000)

	order, err := f.svc.PlaceBuyOrder(ctx, "u1", "BTC", "", "wallet-1", decimal.NewFromInt(50000))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, order.Status)
	assert.True(t, order.CryptoAmount.Equal(decimal.RequireFromString("0.04901961")),
		"crypto = %s", order.CryptoAmount)
	assert.Equal(t, "po-1", order.PayoutID)
	assert.Equal(t, "0xdeadbeef", order.TxHash)

	assert.True(t, f.ledger.balances["u1"].Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, ledgerdomain.EntryStatusCompleted, f.ledger.txStatus[order.TransactionID])
}

func TestPlaceBuyOrderRefundsOnPayoutFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.ledger.balances["u1"] = decimal.NewFromInt(100000)
	f.gateway.payoutErr = provider.ErrUnavailable

	_, err := f.svc.PlaceBuyOrder(ctx, "u1", "BTC", "", "wallet-1", decimal.NewFromInt(50000))
	require.ErrorIs(t, err, provider.ErrUnavailable)

	// 退款后余额复原，流水终态 FAILED，订单 FAILED
	assert.True(t, f.ledger.balances["u1"].Equal(decimal.NewFromInt(100000)),
		"balance = %s", f.ledger.balances["u1"])

	var saved *domain.CryptoOrder
	for _, o := range f.orders.orders {
		saved = o
	}
	require.NotNil(t, saved)
	assert.Equal(t, domain.StatusFailed, saved.Status)
	assert.Equal(t, ledgerdomain.EntryStatusFailed, f.ledger.txStatus[saved.TransactionID])
}

func TestPlaceBuyOrderRefundsOnPayoutPanic(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.ledger.balances["u1"] = decimal.NewFromInt(100000)
	f.gateway.payoutPanic = true

	_, err := f.svc.PlaceBuyOrder(ctx, "u1", "BTC", "", "wallet-1", decimal.NewFromInt(50000))
	require.ErrorIs(t, err, provider.ErrUnavailable)
	assert.True(t, f.ledger.balances["u1"].Equal(decimal.NewFromInt(100000)))
}

func TestPlaceBuyOrderInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.ledger.balances["u1"] = decimal.NewFromInt(20000)

	_, err := f.svc.PlaceBuyOrder(ctx, "u1", "BTC", "", "wallet-1", decimal.NewFromInt(50000))
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	// 未占用资金，订单直接取消，网关没有被触碰
	assert.Equal(t, 0, f.gateway.payoutCalls)
	for _, o := range f.orders.orders {
		assert.Equal(t, domain.StatusCancelled, o.Status)
	}
}

func TestPlaceBuyOrderBelowMinimum(t *testing.T) {
	f := newFixture()
	_, err := f.svc.PlaceBuyOrder(context.Background(), "u1", "BTC", "", "wallet-1", decimal.NewFromInt(5000))
	require.ErrorIs(t, err, pricing.ErrAmountTooLow)
	assert.Empty(t, f.orders.orders)
}

func TestPlaceBuyOrderInactiveCoin(t *testing.T) {
	f := newFixture()
	coins := &memCoins{settings: map[string]*domain.CoinSetting{
		"BTC": {Symbol: "BTC", BuyMarginPct: decimal.NewFromInt(3), Active: false},
	}}
	f.svc.coins = coins

	_, err := f.svc.PlaceBuyOrder(context.Background(), "u1", "BTC", "", "wallet-1", decimal.NewFromInt(50000))
	require.ErrorIs(t, err, domain.ErrUnsupportedCoin)
}

func TestQuoteBuyByCrypto(t *testing.T) {
	f := newFixture()
	f.svc.rates.(*fakeRates).fee = decimal.RequireFromString("0.0002")

	quote, err := f.svc.QuoteBuyByCrypto(context.Background(), "BTC", "", decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	// 1,000,000 × 1.02 × 0.01 = 10,200；手续费 0.0002 × 1,000,000 = 200
	assert.True(t, quote.TotalFiat.Equal(decimal.NewFromInt(10400)), "total = %s", quote.TotalFiat)
	assert.True(t, quote.NetworkFeeFiat.Equal(decimal.NewFromInt(200)))
}

func TestSellOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.svc.rates.(*fakeRates).rates["BTC"] = decimal.NewFromInt(1000000000)

	order, err := f.svc.PlaceSellOrder(ctx, "u1", "BTC", "", decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAwaitingCrypto, order.Status)
	assert.Equal(t, "pay-1", order.PaymentID)
	assert.Equal(t, "deposit-addr", order.DepositAddress)
	assert.True(t, order.FiatAmount.Equal(decimal.NewFromInt(9800000)), "fiat = %s", order.FiatAmount)
	require.NotNil(t, order.ExpiresAt)

	// 入金确认：入账一次
	require.NoError(t, f.svc.ConfirmSellDeposit(ctx, "pay-1"))
	assert.True(t, f.ledger.balances["u1"].Equal(decimal.NewFromInt(9800000)))

	got, err := f.svc.GetOrder(ctx, "u1", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	// 回调重放：幂等 no-op，不会二次入账
	require.NoError(t, f.svc.ConfirmSellDeposit(ctx, "pay-1"))
	assert.True(t, f.ledger.balances["u1"].Equal(decimal.NewFromInt(9800000)))
}

// 同一 Paid 回调并发送达两次，只允许一次入账。
func TestConfirmSellDepositConcurrentReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.svc.rates.(*fakeRates).rates["BTC"] = decimal.NewFromInt(1000000000)

	order, err := f.svc.PlaceSellOrder(ctx, "u1", "BTC", "", decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.ConfirmSellDeposit(ctx, "pay-1")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.True(t, f.ledger.balances["u1"].Equal(decimal.NewFromInt(9800000)),
		"balance = %s", f.ledger.balances["u1"])

	got, err := f.svc.GetOrder(ctx, "u1", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	// 只有一条 SELL 流水
	assert.Len(t, f.ledger.txStatus, 1)
}

func TestSellOrderBelowMinimumProceeds(t *testing.T) {
	f := newFixture()
	// 0.000001 BTC × 980000 ≈ 1 法币，远低于下限
	_, err := f.svc.PlaceSellOrder(context.Background(), "u1", "BTC", "", decimal.RequireFromString("0.000001"))
	require.ErrorIs(t, err, pricing.ErrAmountTooLow)
}

func TestSellOrderPaymentFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.svc.rates.(*fakeRates).rates["BTC"] = decimal.NewFromInt(1000000000)
	f.gateway.paymentErr = errors.New("gateway down")

	_, err := f.svc.PlaceSellOrder(ctx, "u1", "BTC", "", decimal.RequireFromString("0.01"))
	require.Error(t, err)

	for _, o := range f.orders.orders {
		assert.Equal(t, domain.StatusFailed, o.Status)
	}
	assert.True(t, f.ledger.balances["u1"].IsZero())
}

func TestExpireSellOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.svc.rates.(*fakeRates).rates["BTC"] = decimal.NewFromInt(1000000000)

	order, err := f.svc.PlaceSellOrder(ctx, "u1", "BTC", "", decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	require.NoError(t, f.svc.ExpireSellOrder(ctx, "pay-1"))

	got, err := f.svc.GetOrder(ctx, "u1", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.True(t, f.ledger.balances["u1"].IsZero())

	// 过期后到账的回调不再入账
	err = f.svc.ConfirmSellDeposit(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, f.ledger.balances["u1"].IsZero())
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.svc.rates.(*fakeRates).rates["BTC"] = decimal.NewFromInt(1000000000)

	order, err := f.svc.PlaceSellOrder(ctx, "u1", "BTC", "", decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	stored := f.orders.orders[order.OrderID]
	stored.ExpiresAt = &past

	require.NoError(t, f.svc.SweepExpired(ctx))

	got, err := f.svc.GetOrder(ctx, "u1", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}
