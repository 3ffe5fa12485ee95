// Package application 推荐返利应用服务。
package application

import (
	"context"
	"errors"

	ledgerapp "github.com/davinsptra/cryptobroker/internal/ledger/application"
	ledgerdomain "github.com/davinsptra/cryptobroker/internal/ledger/domain"
	"github.com/davinsptra/cryptobroker/internal/referral/domain"
	"github.com/davinsptra/cryptobroker/pkg/logger"
	"github.com/shopspring/decimal"
)

// Ledger 返利发放依赖的记账原语
type Ledger interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, m ledgerapp.Mutation) (string, error)
}

// Service 推荐返利应用服务
type Service struct {
	referrals domain.ReferralRepository
	settings  domain.SettingRepository
	ledger    Ledger
}

// NewService 创建返利服务
func NewService(referrals domain.ReferralRepository, settings domain.SettingRepository, ledger Ledger) *Service {
	return &Service{referrals: referrals, settings: settings, ledger: ledger}
}

// Register 建立推荐关系。被推荐人只能有一个推荐人。
func (s *Service) Register(ctx context.Context, referrerID, refereeID string) error {
	if referrerID == refereeID {
		return domain.ErrSelfReferral
	}
	if _, err := s.referrals.GetByReferee(ctx, refereeID); err == nil {
		return domain.ErrAlreadyReferred
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return s.referrals.Create(ctx, &domain.Referral{
		ReferrerID: referrerID,
		RefereeID:  refereeID,
	})
}

// PayBonus 被推荐人首笔订单完成时发放返利：推荐人与被推荐人各入账一次。
// 没有推荐关系、返利已发放或返利未启用时为 no-op。
func (s *Service) PayBonus(ctx context.Context, refereeID, orderID string) error {
	referral, err := s.referrals.GetByReferee(ctx, refereeID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if referral.BonusPaid {
		return nil
	}

	setting, err := s.settings.Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !setting.Active {
		return nil
	}

	// 先抢占发放标记，并发完成的多笔订单只有一个赢家；抢占后入账失败需人工补发
	if err := s.referrals.ClaimBonus(ctx, refereeID); err != nil {
		if errors.Is(err, domain.ErrBonusAlreadyPaid) {
			return nil
		}
		return err
	}

	meta := ledgerdomain.Metadata{"orderId": orderID, "refereeId": refereeID}
	if setting.ReferrerBonus.IsPositive() {
		if _, err := s.ledger.Credit(ctx, referral.ReferrerID, setting.ReferrerBonus, ledgerapp.Mutation{
			Type:        ledgerdomain.EntryTypeReferralBonus,
			Description: "Referral bonus",
			Metadata:    meta,
		}); err != nil {
			return err
		}
	}
	if setting.RefereeBonus.IsPositive() {
		if _, err := s.ledger.Credit(ctx, refereeID, setting.RefereeBonus, ledgerapp.Mutation{
			Type:        ledgerdomain.EntryTypeReferralBonus,
			Description: "Welcome bonus",
			Metadata:    meta,
		}); err != nil {
			return err
		}
	}

	logger.Info(ctx, "referral bonus paid",
		"referrer_id", referral.ReferrerID, "referee_id", refereeID, "order_id", orderID)
	return nil
}

// ListReferrals 查询某人推荐的所有用户
func (s *Service) ListReferrals(ctx context.Context, referrerID string) ([]*domain.Referral, error) {
	return s.referrals.ListByReferrer(ctx, referrerID)
}

// SaveSetting 更新返利参数（管理端）
func (s *Service) SaveSetting(ctx context.Context, setting *domain.Setting) error {
	return s.settings.Save(ctx, setting)
}
