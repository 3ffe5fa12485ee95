// Package mysql 账本仓储的 MySQL 实现。
package mysql

import (
	"context"
	"errors"

	"github.com/davinsptra/cryptobroker/internal/ledger/domain"
	"github.com/davinsptra/cryptobroker/pkg/db"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type balanceRepository struct {
	db *gorm.DB
}

// NewBalanceRepository 创建余额仓储
func NewBalanceRepository(gdb *gorm.DB) domain.BalanceRepository {
	return &balanceRepository{db: gdb}
}

func (r *balanceRepository) conn(ctx context.Context) *gorm.DB {
	if tx := db.TxFrom(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *balanceRepository) Get(ctx context.Context, userID string) (*domain.Balance, error) {
	var bal domain.Balance
	err := r.conn(ctx).Where("user_id = ?", userID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.Balance{UserID: userID, Amount: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

// GetForUpdate 以 SELECT ... FOR UPDATE 锁定余额行，同一用户的记账由此串行化。
// 余额行不存在时在当前事务内创建，新插入的行同样被本事务持有。
func (r *balanceRepository) GetForUpdate(ctx context.Context, userID string) (*domain.Balance, error) {
	conn := r.conn(ctx)

	var bal domain.Balance
	err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		bal = domain.Balance{UserID: userID, Amount: decimal.Zero}
		if err := conn.Create(&bal).Error; err != nil {
			return nil, err
		}
		return &bal, nil
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

func (r *balanceRepository) UpdateAmount(ctx context.Context, userID string, amount decimal.Decimal) error {
	return r.conn(ctx).Model(&domain.Balance{}).
		Where("user_id = ?", userID).
		Update("amount", amount).Error
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建流水仓储
func NewTransactionRepository(gdb *gorm.DB) domain.TransactionRepository {
	return &transactionRepository{db: gdb}
}

func (r *transactionRepository) conn(ctx context.Context) *gorm.DB {
	if tx := db.TxFrom(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *transactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	return r.conn(ctx).Create(tx).Error
}

func (r *transactionRepository) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.conn(ctx).Where("transaction_id = ?", transactionID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Settle 带状态前置条件的 UPDATE，影响行数为 0 说明已被结算或不存在。
func (r *transactionRepository) Settle(ctx context.Context, transactionID string, status domain.EntryStatus) error {
	res := r.conn(ctx).Model(&domain.Transaction{}).
		Where("transaction_id = ? AND status = ?", transactionID, domain.EntryStatusPending).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, transactionID); err != nil {
			return err
		}
		return domain.ErrInvalidState
	}
	return nil
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID string, typ domain.EntryType, limit, offset int) ([]*domain.Transaction, int64, error) {
	query := r.conn(ctx).Model(&domain.Transaction{}).Where("user_id = ?", userID)
	if typ != "" {
		query = query.Where("type = ?", typ)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txs []*domain.Transaction
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&txs).Error; err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func (r *transactionRepository) SumCompleted(ctx context.Context, userID string) (decimal.Decimal, error) {
	var txs []*domain.Transaction
	err := r.conn(ctx).
		Where("user_id = ? AND status = ?", userID, domain.EntryStatusCompleted).
		Find(&txs).Error
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.SignedAmount())
	}
	return sum, nil
}
