package account

import (
	"errors"
	"testing"
	"time"

	"github.com/meridianbank/core/internal/money"
)

func newAccount(t *testing.T, typ Type) *Account {
	t.Helper()
	a, err := New("user-1", typ, "USD")
	if err != nil {
		t.Fatalf("New(%s): %v", typ, err)
	}
	return a
}

func mustCredit(t *testing.T, a *Account, amount string) {
	t.Helper()
	if err := a.Credit(money.MustParse(amount), KindDeposit, time.Now()); err != nil {
		t.Fatalf("credit %s: %v", amount, err)
	}
}

func TestNew_TypeFeatures(t *testing.T) {
	savings := newAccount(t, TypeSavings)
	if got := money.Format(savings.InterestRate); got != "2.50" {
		t.Errorf("savings rate = %s, want 2.50", got)
	}
	if !savings.OverdraftLimit.IsZero() {
		t.Errorf("savings overdraft = %s, want 0", money.Format(savings.OverdraftLimit))
	}
	if savings.FreeWithdrawals != 6 {
		t.Errorf("savings free withdrawals = %d, want 6", savings.FreeWithdrawals)
	}

	business := newAccount(t, TypeBusiness)
	if got := money.Format(business.OverdraftLimit); got != "10000.00" {
		t.Errorf("business overdraft = %s, want 10000.00", got)
	}

	if len(savings.Number) != len("MB-12345678") || savings.Number[:3] != "MB-" {
		t.Errorf("account number %q does not match MB-########", savings.Number)
	}
}

func TestNew_UnknownType(t *testing.T) {
	if _, err := New("user-1", Type("gold"), "USD"); err == nil {
		t.Fatal("expected error for unknown account type")
	}
}

func TestDebit_OverdraftBoundary(t *testing.T) {
	a := newAccount(t, TypeChecking) // 500.00 overdraft
	mustCredit(t, a, "100.00")

	// Exactly balance+overdraft succeeds.
	if err := a.Debit(money.MustParse("600.00"), KindWithdrawal, time.Now()); err != nil {
		t.Fatalf("debit at exact overdraft boundary: %v", err)
	}
	if got := money.Format(a.Balance); got != "-500.00" {
		t.Errorf("balance = %s, want -500.00", got)
	}

	// One cent more fails, leaving the balance untouched.
	b := newAccount(t, TypeChecking)
	mustCredit(t, b, "100.00")
	err := b.Debit(money.MustParse("600.01"), KindWithdrawal, time.Now())
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := money.Format(b.Balance); got != "100.00" {
		t.Errorf("failed debit mutated balance to %s", got)
	}
}

func TestDebit_FailureLeavesCountersUntouched(t *testing.T) {
	a := newAccount(t, TypeSavings)
	mustCredit(t, a, "10000.00")

	// 5000.00 daily limit; a 5000.01 transfer must not move any counter.
	err := a.Debit(money.MustParse("5000.01"), KindTransfer, time.Now())
	if !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("err = %v, want ErrDailyLimitExceeded", err)
	}
	if !a.DailyTransferred.IsZero() || !a.MonthlyTransferred.IsZero() {
		t.Error("failed debit must not advance transfer counters")
	}

	// The exact limit passes.
	if err := a.Debit(money.MustParse("5000.00"), KindTransfer, time.Now()); err != nil {
		t.Fatalf("debit at exact daily limit: %v", err)
	}
	if got := money.Format(a.DailyTransferred); got != "5000.00" {
		t.Errorf("daily counter = %s, want 5000.00", got)
	}
}

func TestDebit_MonthlyLimit(t *testing.T) {
	a := newAccount(t, TypeSavings) // 5000 daily / 20000 monthly
	mustCredit(t, a, "30000.00")

	for i := 0; i < 4; i++ {
		if err := a.Debit(money.MustParse("5000.00"), KindTransfer, time.Now()); err != nil {
			t.Fatalf("transfer %d: %v", i+1, err)
		}
		a.ResetDailyCounters()
	}
	err := a.Debit(money.MustParse("0.01"), KindTransfer, time.Now())
	if !errors.Is(err, ErrMonthlyLimitExceeded) {
		t.Fatalf("err = %v, want ErrMonthlyLimitExceeded", err)
	}
}

func TestDebit_NonTransferKindsIgnoreLimits(t *testing.T) {
	a := newAccount(t, TypeSavings)
	mustCredit(t, a, "10000.00")

	// Withdrawals are not transfer-class; 6000 exceeds the daily transfer
	// limit but must still succeed.
	if err := a.Debit(money.MustParse("6000.00"), KindWithdrawal, time.Now()); err != nil {
		t.Fatalf("withdrawal beyond transfer limit: %v", err)
	}
	if !a.DailyTransferred.IsZero() {
		t.Error("withdrawal must not count toward transfer limits")
	}
	if a.WithdrawalsThisMonth != 1 {
		t.Errorf("withdrawals this month = %d, want 1", a.WithdrawalsThisMonth)
	}
}

func TestDebit_InvalidAmountAndInactive(t *testing.T) {
	a := newAccount(t, TypeChecking)
	if err := a.Debit(money.MustParse("0.00"), KindWithdrawal, time.Now()); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount err = %v, want ErrInvalidAmount", err)
	}
	if err := a.Debit(money.MustParse("-5.00"), KindWithdrawal, time.Now()); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount err = %v, want ErrInvalidAmount", err)
	}

	if err := a.Close(time.Now()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Debit(money.MustParse("1.00"), KindWithdrawal, time.Now()); !errors.Is(err, ErrAccountInactive) {
		t.Errorf("inactive debit err = %v, want ErrAccountInactive", err)
	}
	if err := a.Credit(money.MustParse("1.00"), KindDeposit, time.Now()); !errors.Is(err, ErrAccountInactive) {
		t.Errorf("inactive credit err = %v, want ErrAccountInactive", err)
	}
}

func TestHoldAndRelease(t *testing.T) {
	a := newAccount(t, TypeChecking)
	mustCredit(t, a, "1000.00")

	if err := a.Hold(money.MustParse("400.00")); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if got := money.Format(a.Available); got != "600.00" {
		t.Errorf("available = %s, want 600.00", got)
	}
	if got := money.Format(a.Balance); got != "1000.00" {
		t.Errorf("hold must not touch balance, got %s", got)
	}

	// Holds reserve against available, not balance+overdraft.
	if err := a.Hold(money.MustParse("600.01")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("over-hold err = %v, want ErrInsufficientFunds", err)
	}

	// Release is clamped: releasing more than held never lets available
	// exceed balance.
	if err := a.Release(money.MustParse("9999.00")); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !a.Available.Equal(a.Balance) {
		t.Errorf("available = %s after clamped release, want %s",
			money.Format(a.Available), money.Format(a.Balance))
	}
}

func TestAccrueInterest(t *testing.T) {
	a := newAccount(t, TypeSavings) // 2.50% annual
	mustCredit(t, a, "10000.00")

	base := a.LastInterestAt

	// Less than a full day: nothing accrues.
	got, err := a.AccrueInterest(base.Add(23 * time.Hour))
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("accrued %s before a full day elapsed", money.Format(got))
	}

	// 10 days: 10000 * 0.025/365 * 10 = 6.849... -> 6.85
	got, err = a.AccrueInterest(base.Add(10 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if money.Format(got) != "6.85" {
		t.Errorf("10-day interest = %s, want 6.85", money.Format(got))
	}
	if money.Format(a.Balance) != "10006.85" {
		t.Errorf("balance = %s, want 10006.85", money.Format(a.Balance))
	}

	// Idempotent for the same day: a second accrual at the same instant
	// credits nothing.
	got, err = a.AccrueInterest(base.Add(10 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("second same-day accrual credited %s", money.Format(got))
	}
}

func TestAccrueInterest_NoRateOrNegativeBalance(t *testing.T) {
	a := newAccount(t, TypeChecking)
	mustCredit(t, a, "100.00")
	if err := a.Debit(money.MustParse("300.00"), KindWithdrawal, time.Now()); err != nil {
		t.Fatalf("debit into overdraft: %v", err)
	}

	got, err := a.AccrueInterest(a.LastInterestAt.Add(48 * time.Hour))
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("interest accrued on a negative balance: %s", money.Format(got))
	}
}

func TestChargeMaintenanceFee(t *testing.T) {
	a := newAccount(t, TypeChecking) // 5.00 monthly fee
	mustCredit(t, a, "100.00")

	fee, err := a.ChargeMaintenanceFee(time.Now())
	if err != nil {
		t.Fatalf("charge fee: %v", err)
	}
	if money.Format(fee) != "5.00" {
		t.Errorf("fee = %s, want 5.00", money.Format(fee))
	}
	if money.Format(a.Balance) != "95.00" {
		t.Errorf("balance = %s, want 95.00", money.Format(a.Balance))
	}
}

func TestChargeMaintenanceFee_SkipsWhenUnderfunded(t *testing.T) {
	a := newAccount(t, TypeChecking)
	mustCredit(t, a, "4.99")

	fee, err := a.ChargeMaintenanceFee(time.Now())
	if err != nil {
		t.Fatalf("charge fee: %v", err)
	}
	if !fee.IsZero() {
		t.Errorf("fee charged on an underfunded account: %s", money.Format(fee))
	}
	if money.Format(a.Balance) != "4.99" {
		t.Errorf("balance = %s, want 4.99", money.Format(a.Balance))
	}
}

func TestWithdrawalFeeDue(t *testing.T) {
	a := newAccount(t, TypeSavings) // 6 free, then 2.00
	mustCredit(t, a, "1000.00")

	for i := 0; i < 6; i++ {
		if fee := a.WithdrawalFeeDue(); !fee.IsZero() {
			t.Fatalf("fee due on free withdrawal %d: %s", i+1, money.Format(fee))
		}
		if err := a.Debit(money.MustParse("10.00"), KindWithdrawal, time.Now()); err != nil {
			t.Fatalf("withdrawal %d: %v", i+1, err)
		}
	}
	if fee := a.WithdrawalFeeDue(); money.Format(fee) != "2.00" {
		t.Errorf("fee after free allowance = %s, want 2.00", money.Format(fee))
	}

	// Premium has no withdrawal fee regardless of count.
	p := newAccount(t, TypePremium)
	if fee := p.WithdrawalFeeDue(); !fee.IsZero() {
		t.Errorf("premium withdrawal fee = %s, want 0", money.Format(fee))
	}
}

func TestClose_RequiresZeroBalance(t *testing.T) {
	// Positive balance refuses to close.
	a := newAccount(t, TypeChecking)
	mustCredit(t, a, "10.00")
	if err := a.Close(time.Now()); !errors.Is(err, ErrNonZeroBalance) {
		t.Errorf("close positive err = %v, want ErrNonZeroBalance", err)
	}

	// Overdrawn balance refuses too.
	b := newAccount(t, TypeChecking)
	mustCredit(t, b, "100.00")
	if err := b.Debit(money.MustParse("400.00"), KindWithdrawal, time.Now()); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := b.Close(time.Now()); !errors.Is(err, ErrNonZeroBalance) {
		t.Errorf("close overdrawn err = %v, want ErrNonZeroBalance", err)
	}

	// Zero closes, further mutation is refused, reactivation reopens.
	c := newAccount(t, TypeChecking)
	if err := c.Close(time.Now()); err != nil {
		t.Fatalf("close zero balance: %v", err)
	}
	if c.Active || c.ClosedAt == nil {
		t.Error("closed account must be inactive with a close timestamp")
	}
	if err := c.Reactivate(); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if !c.Active || c.ClosedAt != nil {
		t.Error("reactivated account must be active with no close timestamp")
	}
	if err := c.Reactivate(); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("double reactivate err = %v, want ErrAlreadyActive", err)
	}
}

func TestLifecycle_OpenCreditDebitClose(t *testing.T) {
	a := newAccount(t, TypeSavings)
	mustCredit(t, a, "1000.00")

	for i := 0; i < 3; i++ {
		if err := a.Debit(money.MustParse("200.00"), KindTransfer, time.Now()); err != nil {
			t.Fatalf("debit %d: %v", i+1, err)
		}
	}
	if money.Format(a.Balance) != "400.00" {
		t.Fatalf("balance = %s, want 400.00", money.Format(a.Balance))
	}
	if err := a.Close(time.Now()); !errors.Is(err, ErrNonZeroBalance) {
		t.Fatalf("close at 400.00 err = %v, want ErrNonZeroBalance", err)
	}
	if err := a.Debit(money.MustParse("400.00"), KindWithdrawal, time.Now()); err != nil {
		t.Fatalf("final debit: %v", err)
	}
	if err := a.Close(time.Now()); err != nil {
		t.Fatalf("close at zero: %v", err)
	}
}

func TestOverdraftScenario(t *testing.T) {
	a := newAccount(t, TypeChecking) // 500.00 overdraft
	mustCredit(t, a, "200.00")

	// First 300.00 debit lands at -100.00.
	if err := a.Debit(money.MustParse("300.00"), KindWithdrawal, time.Now()); err != nil {
		t.Fatalf("first debit: %v", err)
	}
	if money.Format(a.Balance) != "-100.00" {
		t.Fatalf("balance = %s, want -100.00", money.Format(a.Balance))
	}

	// 400.00 more reaches the floor exactly.
	if err := a.Debit(money.MustParse("400.00"), KindWithdrawal, time.Now()); err != nil {
		t.Fatalf("second debit: %v", err)
	}
	if money.Format(a.Balance) != "-500.00" {
		t.Fatalf("balance = %s, want -500.00", money.Format(a.Balance))
	}

	// Anything further is refused and the balance stays at the floor.
	if err := a.Debit(money.MustParse("0.01"), KindWithdrawal, time.Now()); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if money.Format(a.Balance) != "-500.00" {
		t.Errorf("balance = %s after refused debit, want -500.00", money.Format(a.Balance))
	}
}

func TestUpdateTransferLimits(t *testing.T) {
	b := newAccount(t, TypeBusiness)
	if err := b.UpdateTransferLimits(money.MustParse("200000.00"), money.MustParse("900000.00")); err != nil {
		t.Fatalf("update limits: %v", err)
	}
	if money.Format(b.DailyTransferLimit) != "200000.00" {
		t.Errorf("daily limit = %s, want 200000.00", money.Format(b.DailyTransferLimit))
	}

	if err := b.UpdateTransferLimits(money.MustParse("500.00"), money.MustParse("100.00")); !errors.Is(err, ErrInvalidLimits) {
		t.Errorf("daily > monthly err = %v, want ErrInvalidLimits", err)
	}
	if err := b.UpdateTransferLimits(money.MustParse("0.00"), money.MustParse("100.00")); !errors.Is(err, ErrInvalidLimits) {
		t.Errorf("zero daily err = %v, want ErrInvalidLimits", err)
	}

	s := newAccount(t, TypeSavings)
	if err := s.UpdateTransferLimits(money.MustParse("1.00"), money.MustParse("2.00")); !errors.Is(err, ErrLimitsNotAdjustable) {
		t.Errorf("non-business err = %v, want ErrLimitsNotAdjustable", err)
	}
}

func TestResetCounters(t *testing.T) {
	a := newAccount(t, TypeSavings)
	mustCredit(t, a, "10000.00")
	if err := a.Debit(money.MustParse("1000.00"), KindTransfer, time.Now()); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := a.Debit(money.MustParse("50.00"), KindWithdrawal, time.Now()); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	a.ResetDailyCounters()
	if !a.DailyTransferred.IsZero() {
		t.Error("daily counter not reset")
	}
	if a.MonthlyTransferred.IsZero() {
		t.Error("daily reset must not touch the monthly counter")
	}

	a.ResetMonthlyCounters()
	if !a.MonthlyTransferred.IsZero() || a.WithdrawalsThisMonth != 0 {
		t.Error("monthly reset must zero the monthly counter and withdrawal count")
	}
}
