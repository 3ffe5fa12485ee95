// Package domain 推荐返利领域模型。
// 一个用户最多被推荐一次，返利在被推荐人首笔订单完成时发放一次。
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrNotFound 推荐关系不存在
	ErrNotFound = errors.New("referral: not found")
	// ErrAlreadyReferred 用户已有推荐人
	ErrAlreadyReferred = errors.New("referral: user already referred")
	// ErrSelfReferral 不允许自己推荐自己
	ErrSelfReferral = errors.New("referral: self referral not allowed")
	// ErrBonusAlreadyPaid 返利已发放
	ErrBonusAlreadyPaid = errors.New("referral: bonus already paid")
)

// Referral 推荐关系
type Referral struct {
	gorm.Model
	// 推荐人
	ReferrerID string `gorm:"column:referrer_id;type:varchar(32);index;not null" json:"referrer_id"`
	// 被推荐人，一人一行
	RefereeID string `gorm:"column:referee_id;type:varchar(32);uniqueIndex;not null" json:"referee_id"`
	// 返利是否已发放
	BonusPaid bool `gorm:"column:bonus_paid;not null;default:false" json:"bonus_paid"`
}

func (Referral) TableName() string { return "referrals" }

// Setting 返利参数，由运营维护
type Setting struct {
	gorm.Model
	// 推荐人返利金额（法币）
	ReferrerBonus decimal.Decimal `gorm:"column:referrer_bonus;type:decimal(20,2);not null" json:"referrer_bonus"`
	// 被推荐人返利金额（法币）
	RefereeBonus decimal.Decimal `gorm:"column:referee_bonus;type:decimal(20,2);not null" json:"referee_bonus"`
	// 是否启用
	Active bool `gorm:"column:active;not null;default:true" json:"active"`
}

func (Setting) TableName() string { return "referral_settings" }

// ReferralRepository 推荐关系仓储接口
type ReferralRepository interface {
	Create(ctx context.Context, referral *Referral) error
	Update(ctx context.Context, referral *Referral) error
	// GetByReferee 按被推荐人查询
	GetByReferee(ctx context.Context, refereeID string) (*Referral, error)
	// ClaimBonus 原子地把发放标记翻为 true，已发放时返回 ErrBonusAlreadyPaid。
	// 并发完成的多笔订单靠它决出唯一赢家。
	ClaimBonus(ctx context.Context, refereeID string) error
	// ListByReferrer 查询某人推荐的所有用户
	ListByReferrer(ctx context.Context, referrerID string) ([]*Referral, error)
}

// SettingRepository 返利参数仓储接口
type SettingRepository interface {
	// Get 返回当前生效的返利参数
	Get(ctx context.Context) (*Setting, error)
	Save(ctx context.Context, setting *Setting) error
}
