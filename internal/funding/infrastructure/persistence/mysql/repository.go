// Package mysql 资金仓储的 MySQL 实现。
package mysql

import (
	"context"
	"errors"

	"github.com/davinsptra/cryptobroker/internal/funding/domain"
	"github.com/davinsptra/cryptobroker/pkg/db"
	"gorm.io/gorm"
)

type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository 创建充值仓储
func NewDepositRepository(gdb *gorm.DB) domain.DepositRepository {
	return &depositRepository{db: gdb}
}

func (r *depositRepository) conn(ctx context.Context) *gorm.DB {
	if tx := db.TxFrom(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *depositRepository) Create(ctx context.Context, deposit *domain.Deposit) error {
	return r.conn(ctx).Create(deposit).Error
}

func (r *depositRepository) Update(ctx context.Context, deposit *domain.Deposit) error {
	return r.conn(ctx).Save(deposit).Error
}

func (r *depositRepository) GetByDepositID(ctx context.Context, depositID string) (*domain.Deposit, error) {
	var deposit domain.Deposit
	err := r.conn(ctx).Where("deposit_id = ?", depositID).First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (r *depositRepository) FindByInvoiceID(ctx context.Context, invoiceID string) (*domain.Deposit, error) {
	var deposit domain.Deposit
	err := r.conn(ctx).Where("invoice_id = ?", invoiceID).First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (r *depositRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Deposit, int64, error) {
	query := r.conn(ctx).Model(&domain.Deposit{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var deposits []*domain.Deposit
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&deposits).Error; err != nil {
		return nil, 0, err
	}
	return deposits, total, nil
}

func (r *depositRepository) ListPending(ctx context.Context, limit, offset int) ([]*domain.Deposit, int64, error) {
	query := r.conn(ctx).Model(&domain.Deposit{}).Where("status = ?", domain.StatusPending)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var deposits []*domain.Deposit
	if err := query.Order("created_at ASC").Limit(limit).Offset(offset).Find(&deposits).Error; err != nil {
		return nil, 0, err
	}
	return deposits, total, nil
}

type withdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository 创建提现仓储
func NewWithdrawalRepository(gdb *gorm.DB) domain.WithdrawalRepository {
	return &withdrawalRepository{db: gdb}
}

func (r *withdrawalRepository) conn(ctx context.Context) *gorm.DB {
	if tx := db.TxFrom(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *withdrawalRepository) Create(ctx context.Context, withdrawal *domain.Withdrawal) error {
	return r.conn(ctx).Create(withdrawal).Error
}

func (r *withdrawalRepository) Update(ctx context.Context, withdrawal *domain.Withdrawal) error {
	return r.conn(ctx).Save(withdrawal).Error
}

func (r *withdrawalRepository) GetByWithdrawalID(ctx context.Context, withdrawalID string) (*domain.Withdrawal, error) {
	var withdrawal domain.Withdrawal
	err := r.conn(ctx).Where("withdrawal_id = ?", withdrawalID).First(&withdrawal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

func (r *withdrawalRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Withdrawal, int64, error) {
	query := r.conn(ctx).Model(&domain.Withdrawal{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var withdrawals []*domain.Withdrawal
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&withdrawals).Error; err != nil {
		return nil, 0, err
	}
	return withdrawals, total, nil
}

func (r *withdrawalRepository) ListPending(ctx context.Context, limit, offset int) ([]*domain.Withdrawal, int64, error) {
	query := r.conn(ctx).Model(&domain.Withdrawal{}).Where("status = ?", domain.StatusPending)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var withdrawals []*domain.Withdrawal
	if err := query.Order("created_at ASC").Limit(limit).Offset(offset).Find(&withdrawals).Error; err != nil {
		return nil, 0, err
	}
	return withdrawals, total, nil
}
