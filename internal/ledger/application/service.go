// Package application 账本应用服务：原子的记账原语。
// 每次调用都是一个完整的存储事务：行锁读余额、校验后置条件、写新余额、
// 追加或结算流水，任何一步失败整体回滚。
package application

import (
	"context"
	"fmt"

	"github.com/davinsptra/cryptobroker/internal/ledger/domain"
	"github.com/davinsptra/cryptobroker/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mutation 记账请求的审计信息
type Mutation struct {
	// 流水类型
	Type domain.EntryType
	// 描述
	Description string
	// 关联信息（orderId / depositId / withdrawalId 等）
	Metadata domain.Metadata
	// 结算后的流水状态，零值视为 COMPLETED
	Status domain.EntryStatus
	// 非空时结算该 PENDING 流水，而不是追加新行
	TransactionID string
}

// Service 账本应用服务
type Service struct {
	balances domain.BalanceRepository
	txs      domain.TransactionRepository
	txm      domain.TxManager
}

// NewService 创建账本服务
func NewService(balances domain.BalanceRepository, txs domain.TransactionRepository, txm domain.TxManager) *Service {
	return &Service{balances: balances, txs: txs, txm: txm}
}

// GetBalance 查询用户当前余额
func (s *Service) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := s.balances.Get(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Amount, nil
}

// Credit 入账：余额增加 amount 并落一条流水
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, m Mutation) (string, error) {
	return s.apply(ctx, userID, amount, m)
}

// Debit 扣款：余额减少 amount 并落一条流水。
// 余额不足时不产生任何变更，也不追加流水（fail closed）。
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, m Mutation) (string, error) {
	return s.apply(ctx, userID, amount.Neg(), m)
}

// Record 只追加一条 PENDING 流水，不变更余额。
// 用于充值/提现在发起时先留审计行，入账时再通过 Credit/Debit 结算。
func (s *Service) Record(ctx context.Context, userID string, amount decimal.Decimal, m Mutation) (string, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("ledger: non-positive amount %s", amount)
	}

	tx := &domain.Transaction{
		TransactionID: newTransactionID(),
		UserID:        userID,
		Type:          m.Type,
		Amount:        amount,
		Status:        domain.EntryStatusPending,
		Description:   m.Description,
		Metadata:      m.Metadata,
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return "", err
	}
	return tx.TransactionID, nil
}

// Settle 流水状态迁移 PENDING → status，只允许一次
func (s *Service) Settle(ctx context.Context, transactionID string, status domain.EntryStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("ledger: cannot settle to %s: %w", status, domain.ErrInvalidState)
	}
	return s.txs.Settle(ctx, transactionID, status)
}

// History 分页查询用户流水
func (s *Service) History(ctx context.Context, userID string, typ domain.EntryType, limit, offset int) ([]*domain.Transaction, int64, error) {
	return s.txs.ListByUser(ctx, userID, typ, limit, offset)
}

// SumCompleted 已完成流水的带符号合计，用于对账
func (s *Service) SumCompleted(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.txs.SumCompleted(ctx, userID)
}

// apply 在单个存储事务内完成余额读改写与流水落地。
// 同一用户的并发调用靠余额行锁串行化，不同用户互不阻塞。
func (s *Service) apply(ctx context.Context, userID string, delta decimal.Decimal, m Mutation) (string, error) {
	if delta.IsZero() {
		return "", fmt.Errorf("ledger: zero amount mutation")
	}

	status := m.Status
	if status == "" {
		status = domain.EntryStatusCompleted
	}
	// 追加新行允许 PENDING（买单扣款在途，出金结果定终态）；
	// 结算已有流水必须到终态
	if m.TransactionID != "" && !status.Terminal() {
		return "", fmt.Errorf("ledger: settlement must reach a terminal status, got %s", status)
	}

	txID := m.TransactionID

	err := s.txm.Transaction(ctx, func(ctx context.Context) error {
		bal, err := s.balances.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		next := bal.Amount.Add(delta)
		if next.IsNegative() {
			return domain.ErrInsufficientFunds
		}

		if err := s.balances.UpdateAmount(ctx, userID, next); err != nil {
			return err
		}

		if txID != "" {
			return s.txs.Settle(ctx, txID, status)
		}

		txID = newTransactionID()
		return s.txs.Create(ctx, &domain.Transaction{
			TransactionID: txID,
			UserID:        userID,
			Type:          m.Type,
			Amount:        delta.Abs(),
			Status:        status,
			Description:   m.Description,
			Metadata:      m.Metadata,
		})
	})
	if err != nil {
		return "", err
	}

	logger.Debug(ctx, "ledger mutation applied",
		"user_id", userID, "delta", delta.String(), "transaction_id", txID)
	return txID, nil
}

func newTransactionID() string {
	return "TX-" + uuid.NewString()
}
