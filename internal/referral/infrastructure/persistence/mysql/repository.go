// Package mysql 推荐返利仓储的 MySQL 实现。
package mysql

import (
	"context"
	"errors"

	"github.com/davinsptra/cryptobroker/internal/referral/domain"
	"github.com/davinsptra/cryptobroker/pkg/db"
	"gorm.io/gorm"
)

type referralRepository struct {
	db *gorm.DB
}

// NewReferralRepository 创建推荐关系仓储
func NewReferralRepository(gdb *gorm.DB) domain.ReferralRepository {
	return &referralRepository{db: gdb}
}

func (r *referralRepository) conn(ctx context.Context) *gorm.DB {
	if tx := db.TxFrom(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *referralRepository) Create(ctx context.Context, referral *domain.Referral) error {
	return r.conn(ctx).Create(referral).Error
}

func (r *referralRepository) Update(ctx context.Context, referral *domain.Referral) error {
	return r.conn(ctx).Save(referral).Error
}

// ClaimBonus 条件更新抢占发放资格，rows affected 为零说明已被并发发放。
func (r *referralRepository) ClaimBonus(ctx context.Context, refereeID string) error {
	res := r.conn(ctx).Model(&domain.Referral{}).
		Where("referee_id = ? AND bonus_paid = ?", refereeID, false).
		Update("bonus_paid", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrBonusAlreadyPaid
	}
	return nil
}

func (r *referralRepository) GetByReferee(ctx context.Context, refereeID string) (*domain.Referral, error) {
	var referral domain.Referral
	err := r.conn(ctx).Where("referee_id = ?", refereeID).First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *referralRepository) ListByReferrer(ctx context.Context, referrerID string) ([]*domain.Referral, error) {
	var referrals []*domain.Referral
	if err := r.conn(ctx).Where("referrer_id = ?", referrerID).Find(&referrals).Error; err != nil {
		return nil, err
	}
	return referrals, nil
}

type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository 创建返利参数仓储
func NewSettingRepository(gdb *gorm.DB) domain.SettingRepository {
	return &settingRepository{db: gdb}
}

func (r *settingRepository) conn(ctx context.Context) *gorm.DB {
	if tx := db.TxFrom(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *settingRepository) Get(ctx context.Context) (*domain.Setting, error) {
	var setting domain.Setting
	err := r.conn(ctx).Order("id DESC").First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *settingRepository) Save(ctx context.Context, setting *domain.Setting) error {
	return r.conn(ctx).Save(setting).Error
}
