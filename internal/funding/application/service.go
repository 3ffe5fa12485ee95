// Package application 资金应用服务：充值与提现的申请、审批与入账编排。
// 申请时只落 PENDING 流水作审计；确认/审批时才通过账本改余额，并结算同一条流水。
// 提现在审批时重新校验余额：申请后的余额可能已经变化。
package application

import (
	"context"
	"fmt"

	"github.com/davinsptra/cryptobroker/internal/funding/domain"
	ledgerapp "github.com/davinsptra/cryptobroker/internal/ledger/application"
	ledgerdomain "github.com/davinsptra/cryptobroker/internal/ledger/domain"
	"github.com/davinsptra/cryptobroker/internal/notification"
	"github.com/davinsptra/cryptobroker/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger 资金服务依赖的记账原语
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, m ledgerapp.Mutation) (string, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal, m ledgerapp.Mutation) (string, error)
	Record(ctx context.Context, userID string, amount decimal.Decimal, m ledgerapp.Mutation) (string, error)
	Settle(ctx context.Context, transactionID string, status ledgerdomain.EntryStatus) error
}

// Config 资金业务配置
type Config struct {
	// 最低充值金额（法币）
	MinDepositAmount decimal.Decimal
	// 最低提现金额（法币）
	MinWithdrawalAmount decimal.Decimal
}

// WithdrawalDestination 提现目的账户
type WithdrawalDestination struct {
	BankName      string
	AccountNumber string
	AccountName   string
	EwalletType   string
	EwalletNumber string
}

// Service 资金应用服务
type Service struct {
	deposits    domain.DepositRepository
	withdrawals domain.WithdrawalRepository
	ledger      Ledger
	events      notification.Publisher
	cfg         Config
}

// NewService 创建资金服务
func NewService(
	deposits domain.DepositRepository,
	withdrawals domain.WithdrawalRepository,
	ledger Ledger,
	events notification.Publisher,
	cfg Config,
) *Service {
	return &Service{
		deposits:    deposits,
		withdrawals: withdrawals,
		ledger:      ledger,
		events:      events,
		cfg:         cfg,
	}
}

// CreateDeposit 发起充值：落 PENDING 申请与 PENDING 流水，余额不变。
func (s *Service) CreateDeposit(ctx context.Context, userID string, amount decimal.Decimal, paymentMethod, invoiceID string) (*domain.Deposit, error) {
	if amount.LessThan(s.cfg.MinDepositAmount) {
		return nil, domain.ErrAmountTooLow
	}

	deposit := &domain.Deposit{
		DepositID:     "DEP-" + uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		InvoiceID:     invoiceID,
		Status:        domain.StatusPending,
	}

	txID, err := s.ledger.Record(ctx, userID, amount, ledgerapp.Mutation{
		Type:        ledgerdomain.EntryTypeTopup,
		Description: "Fiat deposit via " + paymentMethod,
		Metadata:    ledgerdomain.Metadata{"depositId": deposit.DepositID},
	})
	if err != nil {
		return nil, err
	}
	deposit.TransactionID = txID

	if err := s.deposits.Create(ctx, deposit); err != nil {
		return nil, err
	}

	logger.Info(ctx, "deposit created",
		"deposit_id", deposit.DepositID, "user_id", userID, "amount", amount.String())
	return deposit, nil
}

// ApproveDeposit 审批通过：入账并把同一条流水结算为 COMPLETED。
// 非 PENDING 的申请返回 ErrInvalidState，不会二次入账。
func (s *Service) ApproveDeposit(ctx context.Context, depositID, note string) (*domain.Deposit, error) {
	deposit, err := s.deposits.GetByDepositID(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if err := deposit.Approve(note); err != nil {
		return nil, fmt.Errorf("deposit %s in %s: %w", depositID, deposit.Status, err)
	}

	if _, err := s.ledger.Credit(ctx, deposit.UserID, deposit.Amount, ledgerapp.Mutation{
		TransactionID: deposit.TransactionID,
		Status:        ledgerdomain.EntryStatusCompleted,
	}); err != nil {
		return nil, err
	}
	if err := s.deposits.Update(ctx, deposit); err != nil {
		return nil, err
	}

	logger.Info(ctx, "deposit approved",
		"deposit_id", depositID, "user_id", deposit.UserID, "amount", deposit.Amount.String())
	s.events.Publish(ctx, notification.TopicFundingEvents, notification.Event{
		Type: "deposit.approved", UserID: deposit.UserID, RefID: depositID,
	})
	return deposit, nil
}

// RejectDeposit 审批拒绝：流水结算为 FAILED，余额不变。
func (s *Service) RejectDeposit(ctx context.Context, depositID, note string) (*domain.Deposit, error) {
	deposit, err := s.deposits.GetByDepositID(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if err := deposit.Reject(note); err != nil {
		return nil, fmt.Errorf("deposit %s in %s: %w", depositID, deposit.Status, err)
	}

	if err := s.ledger.Settle(ctx, deposit.TransactionID, ledgerdomain.EntryStatusFailed); err != nil {
		return nil, err
	}
	if err := s.deposits.Update(ctx, deposit); err != nil {
		return nil, err
	}

	logger.Info(ctx, "deposit rejected", "deposit_id", depositID, "note", note)
	s.events.Publish(ctx, notification.TopicFundingEvents, notification.Event{
		Type: "deposit.rejected", UserID: deposit.UserID, RefID: depositID,
	})
	return deposit, nil
}

// ConfirmDepositByInvoice 网关账单确认：等价于审批通过，按账单号关联。
// 已终态的申请直接返回 nil，保证回调重放安全。
func (s *Service) ConfirmDepositByInvoice(ctx context.Context, invoiceID string) error {
	deposit, err := s.deposits.FindByInvoiceID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if deposit.Status.Terminal() {
		logger.Info(ctx, "deposit already settled, ignoring duplicate confirmation",
			"deposit_id", deposit.DepositID, "status", deposit.Status)
		return nil
	}
	_, err = s.ApproveDeposit(ctx, deposit.DepositID, "confirmed by payment gateway")
	return err
}

// CancelDepositByInvoice 网关账单过期：取消申请并把流水结算为 FAILED。
func (s *Service) CancelDepositByInvoice(ctx context.Context, invoiceID string) error {
	deposit, err := s.deposits.FindByInvoiceID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if deposit.Status.Terminal() {
		return nil
	}
	if err := deposit.Cancel("invoice expired"); err != nil {
		return err
	}
	if err := s.ledger.Settle(ctx, deposit.TransactionID, ledgerdomain.EntryStatusFailed); err != nil {
		return err
	}
	if err := s.deposits.Update(ctx, deposit); err != nil {
		return err
	}
	logger.Info(ctx, "deposit cancelled on invoice expiry", "deposit_id", deposit.DepositID)
	return nil
}

// CreateWithdrawal 发起提现：只做余额预检与审计落账，不占用资金。
func (s *Service) CreateWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, dest WithdrawalDestination) (*domain.Withdrawal, error) {
	if amount.LessThan(s.cfg.MinWithdrawalAmount) {
		return nil, domain.ErrAmountTooLow
	}

	withdrawal := &domain.Withdrawal{
		WithdrawalID:  "WD-" + uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		BankName:      dest.BankName,
		AccountNumber: dest.AccountNumber,
		AccountName:   dest.AccountName,
		EwalletType:   dest.EwalletType,
		EwalletNumber: dest.EwalletNumber,
		Status:        domain.StatusPending,
	}
	if !withdrawal.HasDestination() {
		return nil, fmt.Errorf("funding: withdrawal destination is required")
	}

	// 预检只为尽早拒绝明显不足的申请，真正的校验在审批扣款时进行
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, ledgerdomain.ErrInsufficientFunds
	}

	txID, err := s.ledger.Record(ctx, userID, amount, ledgerapp.Mutation{
		Type:        ledgerdomain.EntryTypeWithdraw,
		Description: "Fiat withdrawal",
		Metadata:    ledgerdomain.Metadata{"withdrawalId": withdrawal.WithdrawalID},
	})
	if err != nil {
		return nil, err
	}
	withdrawal.TransactionID = txID

	if err := s.withdrawals.Create(ctx, withdrawal); err != nil {
		return nil, err
	}

	logger.Info(ctx, "withdrawal created",
		"withdrawal_id", withdrawal.WithdrawalID, "user_id", userID, "amount", amount.String())
	return withdrawal, nil
}

// ApproveWithdrawal 审批通过：行锁下重新校验余额并扣款，流水结算为 COMPLETED。
// 余额不足时申请保持 PENDING，返回 ErrInsufficientFunds 由管理端决定后续处理。
func (s *Service) ApproveWithdrawal(ctx context.Context, withdrawalID, note string) (*domain.Withdrawal, error) {
	withdrawal, err := s.withdrawals.GetByWithdrawalID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if err := withdrawal.Approve(note); err != nil {
		return nil, fmt.Errorf("withdrawal %s in %s: %w", withdrawalID, withdrawal.Status, err)
	}

	if _, err := s.ledger.Debit(ctx, withdrawal.UserID, withdrawal.Amount, ledgerapp.Mutation{
		TransactionID: withdrawal.TransactionID,
		Status:        ledgerdomain.EntryStatusCompleted,
	}); err != nil {
		return nil, err
	}
	if err := s.withdrawals.Update(ctx, withdrawal); err != nil {
		return nil, err
	}

	logger.Info(ctx, "withdrawal approved",
		"withdrawal_id", withdrawalID, "user_id", withdrawal.UserID, "amount", withdrawal.Amount.String())
	s.events.Publish(ctx, notification.TopicFundingEvents, notification.Event{
		Type: "withdrawal.approved", UserID: withdrawal.UserID, RefID: withdrawalID,
	})
	return withdrawal, nil
}

// RejectWithdrawal 审批拒绝：流水结算为 FAILED，余额不变。
func (s *Service) RejectWithdrawal(ctx context.Context, withdrawalID, note string) (*domain.Withdrawal, error) {
	withdrawal, err := s.withdrawals.GetByWithdrawalID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if err := withdrawal.Reject(note); err != nil {
		return nil, fmt.Errorf("withdrawal %s in %s: %w", withdrawalID, withdrawal.Status, err)
	}

	if err := s.ledger.Settle(ctx, withdrawal.TransactionID, ledgerdomain.EntryStatusFailed); err != nil {
		return nil, err
	}
	if err := s.withdrawals.Update(ctx, withdrawal); err != nil {
		return nil, err
	}

	logger.Info(ctx, "withdrawal rejected", "withdrawal_id", withdrawalID, "note", note)
	s.events.Publish(ctx, notification.TopicFundingEvents, notification.Event{
		Type: "withdrawal.rejected", UserID: withdrawal.UserID, RefID: withdrawalID,
	})
	return withdrawal, nil
}

// ListDeposits 分页查询用户充值记录
func (s *Service) ListDeposits(ctx context.Context, userID string, limit, offset int) ([]*domain.Deposit, int64, error) {
	return s.deposits.ListByUser(ctx, userID, limit, offset)
}

// ListWithdrawals 分页查询用户提现记录
func (s *Service) ListWithdrawals(ctx context.Context, userID string, limit, offset int) ([]*domain.Withdrawal, int64, error) {
	return s.withdrawals.ListByUser(ctx, userID, limit, offset)
}

// ListPendingDeposits 待审批充值（管理端）
func (s *Service) ListPendingDeposits(ctx context.Context, limit, offset int) ([]*domain.Deposit, int64, error) {
	return s.deposits.ListPending(ctx, limit, offset)
}

// ListPendingWithdrawals 待审批提现（管理端）
func (s *Service) ListPendingWithdrawals(ctx context.Context, limit, offset int) ([]*domain.Withdrawal, int64, error) {
	return s.withdrawals.ListPending(ctx, limit, offset)
}
