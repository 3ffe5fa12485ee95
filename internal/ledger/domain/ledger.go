// Package domain 账本领域模型：用户法币余额与只追加的流水记录。
// 余额是可用资金的唯一事实来源，只允许通过账本服务的原子原语变更。
package domain

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrInsufficientFunds 扣款前置校验失败，余额不可为负
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInvalidState 流水状态迁移不合法（已结算的行不允许再次结算）
	ErrInvalidState = errors.New("ledger: invalid transaction state")
	// ErrNotFound 流水不存在
	ErrNotFound = errors.New("ledger: transaction not found")
)

// EntryType 流水类型
type EntryType string

const (
	EntryTypeTopup         EntryType = "TOPUP"
	EntryTypeWithdraw      EntryType = "WITHDRAW"
	EntryTypeBuy           EntryType = "BUY"
	EntryTypeSell          EntryType = "SELL"
	EntryTypeReferralBonus EntryType = "REFERRAL_BONUS"
)

// Sign 返回该类型对余额的符号：入金 +1，出金 −1
func (t EntryType) Sign() int {
	switch t {
	case EntryTypeWithdraw, EntryTypeBuy:
		return -1
	default:
		return 1
	}
}

// EntryStatus 流水状态，PENDING 只允许迁移到 COMPLETED 或 FAILED 一次
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "PENDING"
	EntryStatusCompleted EntryStatus = "COMPLETED"
	EntryStatusFailed    EntryStatus = "FAILED"
)

// Terminal 是否为终态
func (s EntryStatus) Terminal() bool {
	return s == EntryStatusCompleted || s == EntryStatusFailed
}

// Metadata 流水关联信息，以 JSON 存储（如 orderId / depositId / withdrawalId）
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *Metadata) Scan(input any) error {
	if input == nil {
		*m = nil
		return nil
	}
	b, ok := input.([]byte)
	if !ok {
		return fmt.Errorf("ledger: unsupported metadata type %T", input)
	}
	return json.Unmarshal(b, m)
}

func (Metadata) GormDataType() string { return "json" }

// Balance 用户法币余额，一人一行，不允许为负
type Balance struct {
	gorm.Model
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);uniqueIndex;not null" json:"user_id"`
	// 当前余额
	Amount decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null;default:0" json:"amount"`
}

func (Balance) TableName() string { return "balances" }

// Transaction 账本流水，只追加；创建后金额不再变化，只有状态迁移
type Transaction struct {
	gorm.Model
	// 流水 ID（业务主键）
	TransactionID string `gorm:"column:transaction_id;type:varchar(40);uniqueIndex;not null" json:"transaction_id"`
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	// 流水类型
	Type EntryType `gorm:"column:type;type:varchar(20);not null" json:"type"`
	// 金额（恒为正，方向由类型决定）
	Amount decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	// 状态
	Status EntryStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// 描述
	Description string `gorm:"column:description;type:varchar(255)" json:"description"`
	// 关联信息
	Metadata Metadata `gorm:"column:metadata" json:"metadata"`
}

func (Transaction) TableName() string { return "transactions" }

// SignedAmount 带符号金额，用于对账
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type.Sign() < 0 {
		return t.Amount.Neg()
	}
	return t.Amount
}

// BalanceRepository 余额仓储接口
type BalanceRepository interface {
	// Get 查询余额，不存在时返回零余额
	Get(ctx context.Context, userID string) (*Balance, error)
	// GetForUpdate 行锁读取余额，不存在时创建零余额行；必须在事务内调用
	GetForUpdate(ctx context.Context, userID string) (*Balance, error)
	// UpdateAmount 写入新余额
	UpdateAmount(ctx context.Context, userID string, amount decimal.Decimal) error
}

// TransactionRepository 流水仓储接口
type TransactionRepository interface {
	// Create 追加一条流水
	Create(ctx context.Context, tx *Transaction) error
	// Get 按业务 ID 查询流水
	Get(ctx context.Context, transactionID string) (*Transaction, error)
	// Settle 状态迁移 PENDING → status，已结算的行返回 ErrInvalidState
	Settle(ctx context.Context, transactionID string, status EntryStatus) error
	// ListByUser 按用户分页查询，typ 为空表示全部类型
	ListByUser(ctx context.Context, userID string, typ EntryType, limit, offset int) ([]*Transaction, int64, error)
	// SumCompleted 已完成流水的带符号合计，用于与余额对账
	SumCompleted(ctx context.Context, userID string) (decimal.Decimal, error)
}

// TxManager 存储级事务范围，保证余额变更与流水追加同生共死
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
