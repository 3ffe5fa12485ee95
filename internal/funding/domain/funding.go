// Package domain 资金领域模型：法币充值与提现申请。
// 充值在确认时入账，提现在审批时扣款；申请本身不触碰余额。
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrNotFound 申请不存在
	ErrNotFound = errors.New("funding: not found")
	// ErrInvalidState 状态迁移不合法（重复审批等）
	ErrInvalidState = errors.New("funding: invalid state transition")
	// ErrAmountTooLow 金额低于平台下限
	ErrAmountTooLow = errors.New("funding: amount below minimum")
)

// Status 申请状态
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal 是否为终态
func (s Status) Terminal() bool { return s != StatusPending }

// Deposit 充值申请
type Deposit struct {
	gorm.Model
	// 充值单号（业务主键）
	DepositID string `gorm:"column:deposit_id;type:varchar(40);uniqueIndex;not null" json:"deposit_id"`
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	// 金额（法币）
	Amount decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	// 支付方式（bank_transfer / ewallet / crypto_invoice）
	PaymentMethod string `gorm:"column:payment_method;type:varchar(32);not null" json:"payment_method"`
	// 状态
	Status Status `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// 网关账单号（自动确认的充值渠道）
	InvoiceID string `gorm:"column:invoice_id;type:varchar(64);index" json:"invoice_id,omitempty"`
	// 关联的账本流水 ID
	TransactionID string `gorm:"column:transaction_id;type:varchar(40)" json:"transaction_id,omitempty"`
	// 审批备注
	AdminNote string `gorm:"column:admin_note;type:varchar(255)" json:"admin_note,omitempty"`
}

func (Deposit) TableName() string { return "deposits" }

// Approve 审批通过
func (d *Deposit) Approve(note string) error {
	if d.Status != StatusPending {
		return ErrInvalidState
	}
	d.Status = StatusCompleted
	d.AdminNote = note
	return nil
}

// Reject 审批拒绝
func (d *Deposit) Reject(note string) error {
	if d.Status != StatusPending {
		return ErrInvalidState
	}
	d.Status = StatusFailed
	d.AdminNote = note
	return nil
}

// Cancel 取消（账单过期或用户撤回）
func (d *Deposit) Cancel(note string) error {
	if d.Status != StatusPending {
		return ErrInvalidState
	}
	d.Status = StatusCancelled
	d.AdminNote = note
	return nil
}

// Withdrawal 提现申请。目的账户为银行卡或电子钱包二选一。
type Withdrawal struct {
	gorm.Model
	// 提现单号（业务主键）
	WithdrawalID string `gorm:"column:withdrawal_id;type:varchar(40);uniqueIndex;not null" json:"withdrawal_id"`
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	// 金额（法币）
	Amount decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	// 银行名称
	BankName string `gorm:"column:bank_name;type:varchar(64)" json:"bank_name,omitempty"`
	// 银行账号
	AccountNumber string `gorm:"column:account_number;type:varchar(64)" json:"account_number,omitempty"`
	// 户名
	AccountName string `gorm:"column:account_name;type:varchar(64)" json:"account_name,omitempty"`
	// 电子钱包类型
	EwalletType string `gorm:"column:ewallet_type;type:varchar(32)" json:"ewallet_type,omitempty"`
	// 电子钱包账号
	EwalletNumber string `gorm:"column:ewallet_number;type:varchar(64)" json:"ewallet_number,omitempty"`
	// 状态
	Status Status `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// 关联的账本流水 ID
	TransactionID string `gorm:"column:transaction_id;type:varchar(40)" json:"transaction_id,omitempty"`
	// 审批备注
	AdminNote string `gorm:"column:admin_note;type:varchar(255)" json:"admin_note,omitempty"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

// HasDestination 是否填写了有效的到账目的地
func (w *Withdrawal) HasDestination() bool {
	if w.BankName != "" && w.AccountNumber != "" {
		return true
	}
	return w.EwalletType != "" && w.EwalletNumber != ""
}

// Approve 审批通过
func (w *Withdrawal) Approve(note string) error {
	if w.Status != StatusPending {
		return ErrInvalidState
	}
	w.Status = StatusCompleted
	w.AdminNote = note
	return nil
}

// Reject 审批拒绝
func (w *Withdrawal) Reject(note string) error {
	if w.Status != StatusPending {
		return ErrInvalidState
	}
	w.Status = StatusFailed
	w.AdminNote = note
	return nil
}

// DepositRepository 充值仓储接口
type DepositRepository interface {
	Create(ctx context.Context, deposit *Deposit) error
	Update(ctx context.Context, deposit *Deposit) error
	GetByDepositID(ctx context.Context, depositID string) (*Deposit, error)
	// FindByInvoiceID 按网关账单号查询（回调关联）
	FindByInvoiceID(ctx context.Context, invoiceID string) (*Deposit, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Deposit, int64, error)
	// ListPending 待审批列表（管理端）
	ListPending(ctx context.Context, limit, offset int) ([]*Deposit, int64, error)
}

// WithdrawalRepository 提现仓储接口
type WithdrawalRepository interface {
	Create(ctx context.Context, withdrawal *Withdrawal) error
	Update(ctx context.Context, withdrawal *Withdrawal) error
	GetByWithdrawalID(ctx context.Context, withdrawalID string) (*Withdrawal, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Withdrawal, int64, error)
	ListPending(ctx context.Context, limit, offset int) ([]*Withdrawal, int64, error)
}
