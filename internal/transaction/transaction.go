// Package transaction implements the monetary-movement state machine.
//
// A transaction represents one attempted movement tied to exactly one
// source account, referenced by id only. Status transitions follow a fixed
// table; anything outside it fails with ErrInvalidStateTransition and
// leaves the transaction untouched.
package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianbank/core/internal/audit"
	"github.com/meridianbank/core/internal/idgen"
	"github.com/meridianbank/core/internal/money"
)

var (
	ErrInvalidAmount          = errors.New("transaction: amount must be positive")
	ErrAmountTooLarge         = errors.New("transaction: amount exceeds the single-transaction ceiling")
	ErrInvalidStateTransition = errors.New("transaction: invalid state transition")
	ErrRetryLimitExceeded     = errors.New("transaction: retry limit exceeded")
	ErrTransactionNotFound    = errors.New("transaction: not found")
)

// MaxRetries caps how many times a failed transaction may be retried.
const MaxRetries = 3

// DefaultMaxAmount is the hard ceiling for a single transaction unless the
// service is configured otherwise.
var DefaultMaxAmount = money.MustParse("1000000.00")

// Risk level thresholds applied at creation, by amount alone.
var (
	highRiskThreshold   = money.MustParse("10000.00")
	mediumRiskThreshold = money.MustParse("1000.00")
)

// Status is the transaction lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusScheduled       Status = "scheduled"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
	StatusPendingApproval Status = "pending_approval"
	StatusRejected        Status = "rejected"
)

// Type classifies the movement.
type Type string

const (
	TypeTransferInternal Type = "transfer_internal"
	TypeTransferExternal Type = "transfer_external"
	TypePayment          Type = "payment"
	TypeBillPayment      Type = "bill_payment"
	TypeFee              Type = "fee"
	TypeInterest         Type = "interest"
	TypeWithdrawal       Type = "withdrawal"
	TypeDeposit          Type = "deposit"
)

// RiskLevel orders transactions by how much scrutiny they deserve.
// Levels only ever escalate; they are never decreased automatically.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	}
	return "unknown"
}

// Transaction is one attempted monetary movement. Amount and type are
// validated once at creation and never change afterwards.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId"`
	Number      string          `json:"number"`
	Type        Type            `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	Status      Status          `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`

	Origin audit.Origin `json:"origin"`

	// Destination holds an internal account id or an external account
	// number, depending on Type.
	DestAccountID string `json:"destAccountId,omitempty"`
	DestNumber    string `json:"destNumber,omitempty"`

	Fee          decimal.Decimal  `json:"fee"`
	BalanceAfter *decimal.Decimal `json:"balanceAfter,omitempty"`

	FailureReason string `json:"failureReason,omitempty"`
	RetryCount    int    `json:"retryCount"`

	Recurring bool   `json:"recurring"`
	ParentID  string `json:"parentId,omitempty"` // recurring series linkage

	RiskLevel  RiskLevel `json:"riskLevel"`
	FraudFlags []string  `json:"fraudFlags,omitempty"`

	ApprovedBy     string     `json:"approvedBy,omitempty"`
	ApprovedAt     *time.Time `json:"approvedAt,omitempty"`
	ApprovalNotes  string     `json:"approvalNotes,omitempty"`
	ApprovalReason string     `json:"approvalReason,omitempty"`
}

// IsTerminal reports whether the transaction reached a final state. Failed
// is terminal only once the retry budget is spent.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	case StatusFailed:
		return t.RetryCount >= MaxRetries
	}
	return false
}

// New creates a pending transaction. Amount is validated here, once: it
// must be positive and no larger than maxAmount.
func New(accountID string, typ Type, amount decimal.Decimal, currency, description string, maxAmount decimal.Decimal) (*Transaction, error) {
	if !money.IsPositive(amount) {
		return nil, ErrInvalidAmount
	}
	if amount.GreaterThan(maxAmount) {
		return nil, ErrAmountTooLarge
	}
	if currency == "" {
		currency = "USD"
	}
	now := time.Now().UTC()
	return &Transaction{
		ID:        idgen.WithPrefix("txn_"),
		AccountID: accountID,
		Number:    fmt.Sprintf("TXN-%s-%s", now.Format("20060102"), idgen.WithPrefix("")),
		Type:      typ,
		Amount:    amount,
		Currency:  currency,
		// Risk at creation comes from amount thresholds alone; behavioral
		// signals escalate it later through EscalateRisk.
		RiskLevel:   initialRisk(amount),
		Description: description,
		Status:      StatusPending,
		Fee:         money.Zero(),
		CreatedAt:   now,
	}, nil
}

func initialRisk(amount decimal.Decimal) RiskLevel {
	switch {
	case amount.GreaterThanOrEqual(highRiskThreshold):
		return RiskHigh
	case amount.GreaterThanOrEqual(mediumRiskThreshold):
		return RiskMedium
	default:
		return RiskLow
	}
}

// Schedule moves a pending transaction to the scheduled state for later
// execution.
func (t *Transaction) Schedule(at time.Time) error {
	if t.Status != StatusPending {
		return transitionErr(t.Status, StatusScheduled)
	}
	ts := at.UTC()
	t.Status = StatusScheduled
	t.ScheduledAt = &ts
	return nil
}

// Start moves the transaction into processing.
func (t *Transaction) Start() error {
	if t.Status != StatusPending && t.Status != StatusScheduled {
		return transitionErr(t.Status, StatusProcessing)
	}
	now := time.Now().UTC()
	t.Status = StatusProcessing
	t.ProcessedAt = &now
	return nil
}

// Complete finishes a processing transaction, recording the post-transaction
// balance. Completing requires a prior Processing state.
func (t *Transaction) Complete(balanceAfter decimal.Decimal) error {
	if t.Status != StatusProcessing {
		return transitionErr(t.Status, StatusCompleted)
	}
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.BalanceAfter = &balanceAfter
	return nil
}

// Fail records a failure with its reason. Legal from any non-terminal
// state except Completed.
func (t *Transaction) Fail(reason string) error {
	if t.Status == StatusCompleted || t.IsTerminal() {
		return transitionErr(t.Status, StatusFailed)
	}
	t.Status = StatusFailed
	t.FailureReason = reason
	return nil
}

// Cancel aborts a transaction that has not started processing. Never legal
// from Processing or Completed.
func (t *Transaction) Cancel() error {
	if t.Status != StatusPending && t.Status != StatusScheduled {
		return transitionErr(t.Status, StatusCancelled)
	}
	t.Status = StatusCancelled
	return nil
}

// Retry resets a failed transaction to pending, consuming one retry.
func (t *Transaction) Retry() error {
	if t.Status != StatusFailed {
		return transitionErr(t.Status, StatusPending)
	}
	if t.RetryCount >= MaxRetries {
		return ErrRetryLimitExceeded
	}
	t.RetryCount++
	t.Status = StatusPending
	t.FailureReason = ""
	return nil
}

// RequireApproval parks the transaction for a human decision.
func (t *Transaction) RequireApproval(reason string) error {
	if t.Status == StatusCompleted || t.IsTerminal() {
		return transitionErr(t.Status, StatusPendingApproval)
	}
	t.Status = StatusPendingApproval
	t.ApprovalReason = reason
	return nil
}

// Approve returns an approval-parked transaction to pending.
func (t *Transaction) Approve(by, notes string) error {
	if t.Status != StatusPendingApproval {
		return transitionErr(t.Status, StatusPending)
	}
	now := time.Now().UTC()
	t.Status = StatusPending
	t.ApprovedBy = by
	t.ApprovedAt = &now
	t.ApprovalNotes = notes
	return nil
}

// Reject terminally refuses an approval-parked transaction.
func (t *Transaction) Reject(by, reason string) error {
	if t.Status != StatusPendingApproval {
		return transitionErr(t.Status, StatusRejected)
	}
	now := time.Now().UTC()
	t.Status = StatusRejected
	t.ApprovedBy = by
	t.ApprovedAt = &now
	t.ApprovalNotes = reason
	return nil
}

// EscalateRisk raises the risk level and records the reason. The level
// never decreases; flags accumulate.
func (t *Transaction) EscalateRisk(level RiskLevel, flag string) {
	if level > t.RiskLevel {
		t.RiskLevel = level
	}
	if flag != "" {
		t.FraudFlags = append(t.FraudFlags, flag)
	}
}

func transitionErr(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}
