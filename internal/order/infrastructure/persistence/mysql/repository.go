// Package mysql 订单仓储的 MySQL 实现。
package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/davinsptra/cryptobroker/internal/order/domain"
	"github.com/davinsptra/cryptobroker/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(gdb *gorm.DB) domain.OrderRepository {
	return &orderRepository{db: gdb}
}

func (r *orderRepository) conn(ctx context.Context) *gorm.DB {
	if tx := db.TxFrom(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *orderRepository) Create(ctx context.Context, order *domain.CryptoOrder) error {
	return r.conn(ctx).Create(order).Error
}

func (r *orderRepository) Update(ctx context.Context, order *domain.CryptoOrder) error {
	return r.conn(ctx).Save(order).Error
}

// UpdateFrom 条件更新状态迁移，rows affected 为零说明状态已被并发迁移。
func (r *orderRepository) UpdateFrom(ctx context.Context, order *domain.CryptoOrder, from domain.Status) error {
	res := r.conn(ctx).Model(&domain.CryptoOrder{}).
		Where("order_id = ? AND status = ?", order.OrderID, from).
		Updates(map[string]any{
			"status":         order.Status,
			"transaction_id": order.TransactionID,
			"tx_hash":        order.TxHash,
			"fail_reason":    order.FailReason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

func (r *orderRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.CryptoOrder, error) {
	return r.findOne(ctx, "order_id = ?", orderID)
}

func (r *orderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.CryptoOrder, error) {
	return r.findOne(ctx, "payment_id = ?", paymentID)
}

func (r *orderRepository) FindByPayoutID(ctx context.Context, payoutID string) (*domain.CryptoOrder, error) {
	return r.findOne(ctx, "payout_id = ?", payoutID)
}

func (r *orderRepository) findOne(ctx context.Context, query string, arg any) (*domain.CryptoOrder, error) {
	var order domain.CryptoOrder
	err := r.conn(ctx).Where(query, arg).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.CryptoOrder, int64, error) {
	query := r.conn(ctx).Model(&domain.CryptoOrder{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []*domain.CryptoOrder
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *orderRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.CryptoOrder, error) {
	var orders []*domain.CryptoOrder
	err := r.conn(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", domain.StatusAwaitingCrypto, now).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

type coinSettingRepository struct {
	db *gorm.DB
}

// NewCoinSettingRepository 创建币种参数仓储
func NewCoinSettingRepository(gdb *gorm.DB) domain.CoinSettingRepository {
	return &coinSettingRepository{db: gdb}
}

func (r *coinSettingRepository) conn(ctx context.Context) *gorm.DB {
	if tx := db.TxFrom(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *coinSettingRepository) Get(ctx context.Context, symbol string) (*domain.CoinSetting, error) {
	var setting domain.CoinSetting
	err := r.conn(ctx).Where("symbol = ?", symbol).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *coinSettingRepository) List(ctx context.Context) ([]*domain.CoinSetting, error) {
	var settings []*domain.CoinSetting
	if err := r.conn(ctx).Order("symbol").Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// Save 按币种 upsert 交易参数
func (r *coinSettingRepository) Save(ctx context.Context, setting *domain.CoinSetting) error {
	return r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"buy_margin_pct", "sell_margin_pct", "active"}),
	}).Create(setting).Error
}
