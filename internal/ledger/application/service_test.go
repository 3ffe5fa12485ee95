package application

import (
	"context"
	"sync"
	"testing"

	"github.com/davinsptra/cryptobroker/internal/ledger/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 内存仓储，串行语义与 MySQL 行锁实现一致。
type memStore struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	txs      map[string]*domain.Transaction
	order    []string
}

func newMemStore() *memStore {
	return &memStore{
		balances: map[string]decimal.Decimal{},
		txs:      map[string]*domain.Transaction{},
	}
}

func (s *memStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshotBal := map[string]decimal.Decimal{}
	for k, v := range s.balances {
		snapshotBal[k] = v
	}
	snapshotTxs := map[string]domain.Transaction{}
	for k, v := range s.txs {
		snapshotTxs[k] = *v
	}
	snapshotOrder := append([]string(nil), s.order...)

	if err := fn(ctx); err != nil {
		s.balances = snapshotBal
		s.txs = map[string]*domain.Transaction{}
		for k := range snapshotTxs {
			v := snapshotTxs[k]
			s.txs[k] = &v
		}
		s.order = snapshotOrder
		return err
	}
	return nil
}

func (s *memStore) Get(ctx context.Context, userID string) (*domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.Balance{UserID: userID, Amount: s.balances[userID]}, nil
}

func (s *memStore) GetForUpdate(ctx context.Context, userID string) (*domain.Balance, error) {
	return &domain.Balance{UserID: userID, Amount: s.balances[userID]}, nil
}

func (s *memStore) UpdateAmount(ctx context.Context, userID string, amount decimal.Decimal) error {
	s.balances[userID] = amount
	return nil
}

func (s *memStore) Create(ctx context.Context, tx *domain.Transaction) error {
	cp := *tx
	s.txs[tx.TransactionID] = &cp
	s.order = append(s.order, tx.TransactionID)
	return nil
}

func (s *memStore) GetTx(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, ok := s.txs[transactionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *memStore) Settle(ctx context.Context, transactionID string, status domain.EntryStatus) error {
	tx, ok := s.txs[transactionID]
	if !ok {
		return domain.ErrNotFound
	}
	if tx.Status != domain.EntryStatusPending {
		return domain.ErrInvalidState
	}
	tx.Status = status
	return nil
}

func (s *memStore) ListByUser(ctx context.Context, userID string, typ domain.EntryType, limit, offset int) ([]*domain.Transaction, int64, error) {
	var out []*domain.Transaction
	for _, id := range s.order {
		tx := s.txs[id]
		if tx.UserID != userID {
			continue
		}
		if typ != "" && tx.Type != typ {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) SumCompleted(ctx context.Context, userID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tx := range s.txs {
		if tx.UserID == userID && tx.Status == domain.EntryStatusCompleted {
			sum = sum.Add(tx.SignedAmount())
		}
	}
	return sum, nil
}

// txRepo 适配：memStore 的 Get 既服务 BalanceRepository 又服务 TransactionRepository，
// 用轻量包装区分两个接口。
type txRepo struct{ *memStore }

func (r txRepo) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return r.GetTx(ctx, transactionID)
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(store, txRepo{store}, store), store
}

func TestCreditAndDebit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	txID, err := svc.Credit(ctx, "u1", decimal.NewFromInt(100000), Mutation{
		Type:        domain.EntryTypeTopup,
		Description: "initial topup",
	})
	require.NoError(t, err)
	require.NotEmpty(t, txID)

	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100000)))

	_, err = svc.Debit(ctx, "u1", decimal.NewFromInt(30000), Mutation{Type: domain.EntryTypeBuy})
	require.NoError(t, err)

	bal, err = svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(70000)))
}

func TestDebitInsufficientFundsFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	_, err := svc.Credit(ctx, "u1", decimal.NewFromInt(1000), Mutation{Type: domain.EntryTypeTopup})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "u1", decimal.NewFromInt(5000), Mutation{Type: domain.EntryTypeWithdraw})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// 余额不变，且没有为被拒绝的扣款追加流水
	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1000)))
	assert.Len(t, store.txs, 1)
}

func TestRecordAndSettle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	txID, err := svc.Record(ctx, "u1", decimal.NewFromInt(50000), Mutation{
		Type:     domain.EntryTypeTopup,
		Metadata: domain.Metadata{"depositId": "DEP-1"},
	})
	require.NoError(t, err)

	// PENDING 流水不影响余额
	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	// 入账时结算同一条流水
	gotID, err := svc.Credit(ctx, "u1", decimal.NewFromInt(50000), Mutation{
		TransactionID: txID,
		Status:        domain.EntryStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, txID, gotID)

	bal, err = svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(50000)))

	// 重复结算拒绝
	err = svc.Settle(ctx, txID, domain.EntryStatusFailed)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

// 买单扣款：以 PENDING 落行并立即占用资金，出金结果决定同一条流水的终态。
func TestDebitPendingThenSettle(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	_, err := svc.Credit(ctx, "u1", decimal.NewFromInt(100000), Mutation{Type: domain.EntryTypeTopup})
	require.NoError(t, err)

	txID, err := svc.Debit(ctx, "u1", decimal.NewFromInt(40000), Mutation{
		Type:   domain.EntryTypeBuy,
		Status: domain.EntryStatusPending,
	})
	require.NoError(t, err)

	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(60000)))
	assert.Equal(t, domain.EntryStatusPending, store.txs[txID].Status)

	require.NoError(t, svc.Settle(ctx, txID, domain.EntryStatusCompleted))
	assert.Equal(t, domain.EntryStatusCompleted, store.txs[txID].Status)

	// 结算已有流水仍要求终态
	_, err = svc.Credit(ctx, "u1", decimal.NewFromInt(1), Mutation{
		TransactionID: txID,
		Status:        domain.EntryStatusPending,
	})
	require.Error(t, err)
}

func TestSettleUnknownTransaction(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Settle(context.Background(), "TX-missing", domain.EntryStatusCompleted)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// 余额守恒：任意操作序列后，余额等于已完成流水的带符号合计。
func TestBalanceConservation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Credit(ctx, "u1", decimal.NewFromInt(100000), Mutation{Type: domain.EntryTypeTopup})
	require.NoError(t, err)

	// 成功的买入扣款
	_, err = svc.Debit(ctx, "u1", decimal.NewFromInt(20000), Mutation{Type: domain.EntryTypeBuy})
	require.NoError(t, err)

	// 失败的买入：扣款后按原额退款，同一条流水最终 FAILED
	txID, err := svc.Debit(ctx, "u1", decimal.NewFromInt(30000), Mutation{
		Type:   domain.EntryTypeBuy,
		Status: domain.EntryStatusPending,
	})
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "u1", decimal.NewFromInt(30000), Mutation{
		TransactionID: txID,
		Status:        domain.EntryStatusFailed,
	})
	require.NoError(t, err)

	// PENDING 的提现审计行
	_, err = svc.Record(ctx, "u1", decimal.NewFromInt(999), Mutation{Type: domain.EntryTypeWithdraw})
	require.NoError(t, err)

	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	sum, err := svc.SumCompleted(ctx, "u1")
	require.NoError(t, err)

	assert.True(t, bal.Equal(decimal.NewFromInt(80000)), "balance = %s", bal)
	assert.True(t, sum.Equal(bal), "sum completed %s must equal balance %s", sum, bal)
}

func TestConcurrentSameUserSerializes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Credit(ctx, "u1", decimal.NewFromInt(10000), Mutation{Type: domain.EntryTypeTopup})
	require.NoError(t, err)

	// 100 并发各扣 100，余额刚好清零且不可为负
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Debit(ctx, "u1", decimal.NewFromInt(100), Mutation{Type: domain.EntryTypeBuy})
		}()
	}
	wg.Wait()

	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "balance = %s", bal)

	sum, err := svc.SumCompleted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(bal))
}
