// Package account implements the monetary account aggregate.
//
// An account owns its balance, available balance, per-type limits and
// counters. All mutation goes through methods that enforce the monetary
// invariants: available <= balance, balance >= -overdraft, transfer-class
// debits stay within daily/monthly limits. Counter resets are driven by an
// external scheduler, never by the account itself.
package account

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianbank/core/internal/idgen"
	"github.com/meridianbank/core/internal/money"
)

var (
	ErrInvalidAmount        = errors.New("account: invalid amount")
	ErrAccountInactive      = errors.New("account: account is inactive")
	ErrInsufficientFunds    = errors.New("account: insufficient funds")
	ErrDailyLimitExceeded   = errors.New("account: daily transfer limit exceeded")
	ErrMonthlyLimitExceeded = errors.New("account: monthly transfer limit exceeded")
	ErrNonZeroBalance       = errors.New("account: balance must be zero to close")
	ErrAccountNotFound      = errors.New("account: not found")
	ErrInvalidLimits        = errors.New("account: invalid transfer limits")
	ErrLimitsNotAdjustable  = errors.New("account: transfer limits are fixed for this account type")
	ErrAlreadyActive        = errors.New("account: account is already active")
)

// Type selects the feature bundle an account is constructed with.
type Type string

const (
	TypeSavings  Type = "savings"
	TypeChecking Type = "checking"
	TypePremium  Type = "premium"
	TypeBusiness Type = "business"
)

// Features is the fixed bundle a type implies. Rates are annual percent.
type Features struct {
	InterestRate         decimal.Decimal
	DailyTransferLimit   decimal.Decimal
	MonthlyTransferLimit decimal.Decimal
	OverdraftLimit       decimal.Decimal
	MaintenanceFee       decimal.Decimal // monthly
	FreeWithdrawals      int             // per month
	WithdrawalFee        decimal.Decimal // charged past the free count
}

// featureTable fixes each type's bundle at construction time.
var featureTable = map[Type]Features{
	TypeSavings: {
		InterestRate:         money.MustParse("2.50"),
		DailyTransferLimit:   money.MustParse("5000.00"),
		MonthlyTransferLimit: money.MustParse("20000.00"),
		OverdraftLimit:       money.MustParse("0.00"),
		MaintenanceFee:       money.MustParse("0.00"),
		FreeWithdrawals:      6,
		WithdrawalFee:        money.MustParse("2.00"),
	},
	TypeChecking: {
		InterestRate:         money.MustParse("0.10"),
		DailyTransferLimit:   money.MustParse("10000.00"),
		MonthlyTransferLimit: money.MustParse("50000.00"),
		OverdraftLimit:       money.MustParse("500.00"),
		MaintenanceFee:       money.MustParse("5.00"),
		FreeWithdrawals:      20,
		WithdrawalFee:        money.MustParse("1.00"),
	},
	TypePremium: {
		InterestRate:         money.MustParse("1.75"),
		DailyTransferLimit:   money.MustParse("50000.00"),
		MonthlyTransferLimit: money.MustParse("250000.00"),
		OverdraftLimit:       money.MustParse("2500.00"),
		MaintenanceFee:       money.MustParse("15.00"),
		FreeWithdrawals:      0, // unlimited, fee never applies
		WithdrawalFee:        money.MustParse("0.00"),
	},
	TypeBusiness: {
		InterestRate:         money.MustParse("0.50"),
		DailyTransferLimit:   money.MustParse("100000.00"),
		MonthlyTransferLimit: money.MustParse("500000.00"),
		OverdraftLimit:       money.MustParse("10000.00"),
		MaintenanceFee:       money.MustParse("25.00"),
		FreeWithdrawals:      0,
		WithdrawalFee:        money.MustParse("0.00"),
	},
}

// FeaturesFor returns the static bundle for a type.
func FeaturesFor(t Type) (Features, bool) {
	f, ok := featureTable[t]
	return f, ok
}

// Kind classifies a balance movement. Transfer-class kinds count toward
// the daily/monthly transfer limits; withdrawals count toward the monthly
// free-withdrawal allowance.
type Kind string

const (
	KindTransfer   Kind = "transfer"
	KindPayment    Kind = "payment"
	KindWithdrawal Kind = "withdrawal"
	KindDeposit    Kind = "deposit"
	KindFee        Kind = "fee"
	KindInterest   Kind = "interest"
	KindRefund     Kind = "refund"
)

func (k Kind) countsTowardTransferLimits() bool {
	return k == KindTransfer || k == KindPayment
}

// Account is a monetary container owned by one user. Mutate only through
// methods; the Service serializes access per account id.
type Account struct {
	ID       string          `json:"id"`
	Number   string          `json:"number"` // format MB-########
	OwnerID  string          `json:"ownerId"`
	Type     Type            `json:"type"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	// Available is Balance minus outstanding holds. Invariant: Available <= Balance.
	Available decimal.Decimal `json:"available"`

	DailyTransferred     decimal.Decimal `json:"dailyTransferred"`
	MonthlyTransferred   decimal.Decimal `json:"monthlyTransferred"`
	WithdrawalsThisMonth int             `json:"withdrawalsThisMonth"`

	// Limits start from the type's feature bundle; business accounts may
	// widen the transfer limits later.
	DailyTransferLimit   decimal.Decimal `json:"dailyTransferLimit"`
	MonthlyTransferLimit decimal.Decimal `json:"monthlyTransferLimit"`
	OverdraftLimit       decimal.Decimal `json:"overdraftLimit"`
	InterestRate         decimal.Decimal `json:"interestRate"`
	MaintenanceFee       decimal.Decimal `json:"maintenanceFee"`
	FreeWithdrawals      int             `json:"freeWithdrawals"`
	WithdrawalFee        decimal.Decimal `json:"withdrawalFee"`

	Active            bool       `json:"active"`
	OpenedAt          time.Time  `json:"openedAt"`
	ClosedAt          *time.Time `json:"closedAt,omitempty"`
	LastTransactionAt *time.Time `json:"lastTransactionAt,omitempty"`
	LastInterestAt    time.Time  `json:"lastInterestAt"`
}

// New creates an account with zero balance and type-derived limits.
func New(ownerID string, t Type, currency string) (*Account, error) {
	f, ok := featureTable[t]
	if !ok {
		return nil, fmt.Errorf("account: unknown type %q", t)
	}
	if currency == "" {
		currency = "USD"
	}
	now := time.Now().UTC()
	return &Account{
		ID:                   idgen.WithPrefix("acct_"),
		Number:               "MB-" + idgen.Digits(8),
		OwnerID:              ownerID,
		Type:                 t,
		Currency:             currency,
		Balance:              money.Zero(),
		Available:            money.Zero(),
		DailyTransferred:     money.Zero(),
		MonthlyTransferred:   money.Zero(),
		DailyTransferLimit:   f.DailyTransferLimit,
		MonthlyTransferLimit: f.MonthlyTransferLimit,
		OverdraftLimit:       f.OverdraftLimit,
		InterestRate:         f.InterestRate,
		MaintenanceFee:       f.MaintenanceFee,
		FreeWithdrawals:      f.FreeWithdrawals,
		WithdrawalFee:        f.WithdrawalFee,
		Active:               true,
		OpenedAt:             now,
		LastInterestAt:       now,
	}, nil
}

// Debit removes amount from the balance. Fails without mutating anything if
// the amount is non-positive, the account is inactive, the overdraft limit
// would be breached, or a transfer-class kind would exceed the daily or
// monthly transfer limit. The exact overdraft boundary is permitted:
// debiting balance+overdraft succeeds, one cent more fails.
func (a *Account) Debit(amount decimal.Decimal, kind Kind, now time.Time) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if !a.Active {
		return ErrAccountInactive
	}
	if amount.GreaterThan(a.Balance.Add(a.OverdraftLimit)) {
		return ErrInsufficientFunds
	}
	if kind.countsTowardTransferLimits() {
		if a.DailyTransferred.Add(amount).GreaterThan(a.DailyTransferLimit) {
			return ErrDailyLimitExceeded
		}
		if a.MonthlyTransferred.Add(amount).GreaterThan(a.MonthlyTransferLimit) {
			return ErrMonthlyLimitExceeded
		}
	}

	a.Balance = a.Balance.Sub(amount)
	a.Available = a.Available.Sub(amount)
	if kind.countsTowardTransferLimits() {
		a.DailyTransferred = a.DailyTransferred.Add(amount)
		a.MonthlyTransferred = a.MonthlyTransferred.Add(amount)
	}
	if kind == KindWithdrawal {
		a.WithdrawalsThisMonth++
	}
	ts := now.UTC()
	a.LastTransactionAt = &ts
	return nil
}

// Credit adds amount to the balance.
func (a *Account) Credit(amount decimal.Decimal, kind Kind, now time.Time) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if !a.Active {
		return ErrAccountInactive
	}
	a.Balance = a.Balance.Add(amount)
	a.Available = a.Available.Add(amount)
	ts := now.UTC()
	a.LastTransactionAt = &ts
	return nil
}

// Hold reserves amount against the available balance for a pending
// authorization. The balance itself is untouched.
func (a *Account) Hold(amount decimal.Decimal) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if !a.Active {
		return ErrAccountInactive
	}
	if amount.GreaterThan(a.Available) {
		return ErrInsufficientFunds
	}
	a.Available = a.Available.Sub(amount)
	return nil
}

// Release returns held funds to the available balance, clamped so that
// Available never exceeds Balance.
func (a *Account) Release(amount decimal.Decimal) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	a.Available = a.Available.Add(amount)
	if a.Available.GreaterThan(a.Balance) {
		a.Available = a.Balance
	}
	return nil
}

// AccrueInterest credits simple daily interest for the whole days elapsed
// since the last accrual. No-op when the rate or balance is non-positive or
// less than one full day has passed; idempotent per calendar day.
// Returns the credited amount.
func (a *Account) AccrueInterest(now time.Time) (decimal.Decimal, error) {
	if !a.Active {
		return money.Zero(), ErrAccountInactive
	}
	if a.InterestRate.Sign() <= 0 || a.Balance.Sign() <= 0 {
		return money.Zero(), nil
	}
	days := wholeDaysBetween(a.LastInterestAt, now)
	if days < 1 {
		return money.Zero(), nil
	}

	// balance * (rate/365/100) * daysElapsed, rounded once at the end.
	dailyRate := a.InterestRate.Div(decimal.NewFromInt(365)).Div(decimal.NewFromInt(100))
	interest := money.RoundCents(a.Balance.Mul(dailyRate).Mul(decimal.NewFromInt(int64(days))))
	if interest.Sign() <= 0 {
		return money.Zero(), nil
	}

	a.Balance = a.Balance.Add(interest)
	a.Available = a.Available.Add(interest)
	a.LastInterestAt = a.LastInterestAt.AddDate(0, 0, days)
	return interest, nil
}

// ChargeMaintenanceFee debits the monthly fee if one is configured and the
// balance covers it; the fee never pushes the account into overdraft.
// Returns the charged amount, zero when skipped.
func (a *Account) ChargeMaintenanceFee(now time.Time) (decimal.Decimal, error) {
	if !a.Active {
		return money.Zero(), ErrAccountInactive
	}
	if a.MaintenanceFee.Sign() <= 0 || a.Balance.LessThan(a.MaintenanceFee) {
		return money.Zero(), nil
	}
	a.Balance = a.Balance.Sub(a.MaintenanceFee)
	a.Available = a.Available.Sub(a.MaintenanceFee)
	ts := now.UTC()
	a.LastTransactionAt = &ts
	return a.MaintenanceFee, nil
}

// WithdrawalFeeDue returns the fee for the next withdrawal, zero while the
// monthly free allowance lasts or when the type charges none.
func (a *Account) WithdrawalFeeDue() decimal.Decimal {
	if a.FreeWithdrawals <= 0 || a.WithdrawalFee.Sign() <= 0 {
		return money.Zero()
	}
	if a.WithdrawalsThisMonth < a.FreeWithdrawals {
		return money.Zero()
	}
	return a.WithdrawalFee
}

// Close deactivates the account. Only a zero balance may be closed; both
// positive and overdrawn balances are refused.
func (a *Account) Close(now time.Time) error {
	if !a.Balance.IsZero() {
		return ErrNonZeroBalance
	}
	ts := now.UTC()
	a.Active = false
	a.ClosedAt = &ts
	return nil
}

// Reactivate reopens a closed account.
func (a *Account) Reactivate() error {
	if a.Active {
		return ErrAlreadyActive
	}
	a.Active = true
	a.ClosedAt = nil
	return nil
}

// ResetDailyCounters zeroes the daily transfer counter. Invoked by an
// external scheduler.
func (a *Account) ResetDailyCounters() {
	a.DailyTransferred = money.Zero()
}

// ResetMonthlyCounters zeroes the monthly transfer counter and the
// withdrawal count. Invoked by an external scheduler.
func (a *Account) ResetMonthlyCounters() {
	a.MonthlyTransferred = money.Zero()
	a.WithdrawalsThisMonth = 0
}

// UpdateTransferLimits widens the transfer limits. Business accounts only;
// both limits must be positive and daily <= monthly.
func (a *Account) UpdateTransferLimits(daily, monthly decimal.Decimal) error {
	if a.Type != TypeBusiness {
		return ErrLimitsNotAdjustable
	}
	if daily.Sign() <= 0 || monthly.Sign() <= 0 || daily.GreaterThan(monthly) {
		return ErrInvalidLimits
	}
	a.DailyTransferLimit = daily
	a.MonthlyTransferLimit = monthly
	return nil
}

// wholeDaysBetween counts full 24h days from a to b in UTC.
func wholeDaysBetween(a, b time.Time) int {
	if !b.After(a) {
		return 0
	}
	return int(b.UTC().Sub(a.UTC()).Hours() / 24)
}
