package transaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/meridianbank/core/internal/account"
	"github.com/meridianbank/core/internal/audit"
	"github.com/meridianbank/core/internal/money"
)

var testActor = audit.ActorContext{
	Actor:  audit.Actor{UserID: "user-1"},
	Origin: audit.Origin{IPAddress: "203.0.113.9", SessionID: "sess-1"},
}

type testEnv struct {
	svc      *Service
	accounts *account.Service
	store    *MemoryStore
	audits   *audit.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	audits := audit.NewMemoryStore()
	ledger := audit.NewLedger(audits)
	accounts := account.NewService(account.NewMemoryRepository(), ledger)
	store := NewMemoryStore()
	return &testEnv{
		svc:      NewService(store, accounts, ledger),
		accounts: accounts,
		store:    store,
		audits:   audits,
	}
}

func (e *testEnv) openFunded(t *testing.T, balance string) *account.Account {
	return e.openTyped(t, account.TypeChecking, balance)
}

func (e *testEnv) openTyped(t *testing.T, typ account.Type, balance string) *account.Account {
	t.Helper()
	ctx := context.Background()
	a, err := e.accounts.Open(ctx, testActor, "user-1", typ, "USD")
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if balance != "" {
		if _, err := e.accounts.Credit(ctx, testActor, a.ID, money.MustParse(balance), account.KindDeposit); err != nil {
			t.Fatalf("fund account: %v", err)
		}
	}
	return a
}

func (e *testEnv) lastEntry(t *testing.T) *audit.Entry {
	t.Helper()
	entry, err := e.audits.ReadLast(context.Background())
	if err != nil || entry == nil {
		t.Fatalf("read last audit entry: %v", err)
	}
	return entry
}

func TestServiceCreate_LowRiskStaysPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openFunded(t, "500.00")

	txn, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID: a.ID,
		Type:      TypeWithdrawal,
		Amount:    money.MustParse("40.00"),
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if txn.Status != StatusPending {
		t.Errorf("status = %s, want pending", txn.Status)
	}

	e := env.lastEntry(t)
	if e.Action != audit.ActionTxnCreated {
		t.Errorf("audit action = %s, want %s", e.Action, audit.ActionTxnCreated)
	}
	if e.EntityID != txn.ID {
		t.Errorf("audit entity = %q, want %q", e.EntityID, txn.ID)
	}
}

func TestServiceCreate_HighRiskParksForApproval(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openTyped(t, account.TypeBusiness, "50000.00")

	// Large amount plus an external destination clears the approval
	// threshold regardless of the hour.
	txn, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID:  a.ID,
		Type:       TypeTransferExternal,
		Amount:     money.MustParse("15000.00"),
		Currency:   "USD",
		DestNumber: "EXT-99887766",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if txn.Status != StatusPendingApproval {
		t.Fatalf("status = %s, want pending_approval", txn.Status)
	}
	if txn.RiskLevel < RiskHigh {
		t.Errorf("risk = %s, want at least high", txn.RiskLevel)
	}
	if len(txn.FraudFlags) == 0 {
		t.Error("no fraud flags recorded")
	}

	e := env.lastEntry(t)
	if e.Action != audit.ActionTxnApprovalRequired {
		t.Errorf("audit action = %s, want %s", e.Action, audit.ActionTxnApprovalRequired)
	}
	if e.Severity != audit.SeverityWarning {
		t.Errorf("audit severity = %s, want warning", e.Severity)
	}

	// Approval returns it to pending and it processes normally.
	txn, err = env.svc.Approve(ctx, testActor, txn.ID, "ops-lead", "recipient verified")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if txn.Status != StatusPending {
		t.Fatalf("status after approve = %s, want pending", txn.Status)
	}
	txn, err = env.svc.Process(ctx, testActor, txn.ID)
	if err != nil {
		t.Fatalf("process approved: %v", err)
	}
	if txn.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", txn.Status)
	}
}

func TestServiceCreate_RejectsBadAmounts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openFunded(t, "")

	if _, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID: a.ID, Type: TypeDeposit, Amount: money.MustParse("-1.00"),
	}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: err = %v, want ErrInvalidAmount", err)
	}

	env.svc.WithMaxAmount(money.MustParse("100.00"))
	if _, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID: a.ID, Type: TypeDeposit, Amount: money.MustParse("100.01"),
	}); !errors.Is(err, ErrAmountTooLarge) {
		t.Errorf("over ceiling: err = %v, want ErrAmountTooLarge", err)
	}
}

func TestServiceProcess_Deposit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openFunded(t, "")

	txn, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID: a.ID, Type: TypeDeposit, Amount: money.MustParse("250.00"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	txn, err = env.svc.Process(ctx, testActor, txn.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if txn.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", txn.Status)
	}
	if txn.BalanceAfter == nil || !txn.BalanceAfter.Equal(money.MustParse("250.00")) {
		t.Errorf("balanceAfter = %v, want 250.00", txn.BalanceAfter)
	}

	got, err := env.accounts.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.Balance.Equal(money.MustParse("250.00")) {
		t.Errorf("account balance = %s, want 250.00", money.Format(got.Balance))
	}

	e := env.lastEntry(t)
	if e.Action != audit.ActionTxnCompleted {
		t.Errorf("audit action = %s, want %s", e.Action, audit.ActionTxnCompleted)
	}
}

func TestServiceProcess_InternalTransfer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	from := env.openFunded(t, "600.00")
	to := env.openFunded(t, "")

	txn, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID:     from.ID,
		Type:          TypeTransferInternal,
		Amount:        money.MustParse("200.00"),
		DestAccountID: to.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Process(ctx, testActor, txn.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	gotFrom, _ := env.accounts.Get(ctx, from.ID)
	gotTo, _ := env.accounts.Get(ctx, to.ID)
	if !gotFrom.Balance.Equal(money.MustParse("400.00")) {
		t.Errorf("source balance = %s, want 400.00", money.Format(gotFrom.Balance))
	}
	if !gotTo.Balance.Equal(money.MustParse("200.00")) {
		t.Errorf("destination balance = %s, want 200.00", money.Format(gotTo.Balance))
	}
}

func TestServiceProcess_InsufficientFundsRecordsFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openFunded(t, "10.00")

	txn, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID: a.ID, Type: TypeWithdrawal, Amount: money.MustParse("900.00"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	txn, err = env.svc.Process(ctx, testActor, txn.ID)
	if !errors.Is(err, account.ErrInsufficientFunds) {
		t.Fatalf("process: err = %v, want ErrInsufficientFunds", err)
	}
	if txn == nil || txn.Status != StatusFailed {
		t.Fatalf("returned transaction = %+v, want failed", txn)
	}
	if txn.FailureReason == "" {
		t.Error("failureReason empty")
	}

	// The failure is persisted, not just on the returned copy.
	stored, err := env.svc.Get(ctx, txn.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Errorf("stored status = %s, want failed", stored.Status)
	}

	e := env.lastEntry(t)
	if e.Action != audit.ActionTxnFailed {
		t.Errorf("audit action = %s, want %s", e.Action, audit.ActionTxnFailed)
	}
	if e.Severity != audit.SeverityWarning {
		t.Errorf("audit severity = %s, want warning", e.Severity)
	}

	// Balance untouched by the failed attempt.
	got, _ := env.accounts.Get(ctx, a.ID)
	if !got.Balance.Equal(money.MustParse("10.00")) {
		t.Errorf("balance = %s, want 10.00", money.Format(got.Balance))
	}
}

// failedEntryStore refuses to persist transaction.failed entries so the
// append-error path of Process can be observed.
type failedEntryStore struct {
	*audit.MemoryStore
}

func (s *failedEntryStore) Append(ctx context.Context, e *audit.Entry) error {
	if e.Action == audit.ActionTxnFailed {
		return errors.New("audit store offline")
	}
	return s.MemoryStore.Append(ctx, e)
}

func TestServiceProcess_SurfacesDroppedFailureAudit(t *testing.T) {
	ctx := context.Background()
	audits := audit.NewMemoryStore()
	ledger := audit.NewLedger(&failedEntryStore{MemoryStore: audits})
	accounts := account.NewService(account.NewMemoryRepository(), ledger)
	svc := NewService(NewMemoryStore(), accounts, ledger)

	a, err := accounts.Open(ctx, testActor, "user-1", account.TypeChecking, "USD")
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if _, err := accounts.Credit(ctx, testActor, a.ID, money.MustParse("10.00"), account.KindDeposit); err != nil {
		t.Fatalf("credit: %v", err)
	}

	txn, err := svc.Create(ctx, testActor, CreateRequest{
		AccountID: a.ID, Type: TypeWithdrawal, Amount: money.MustParse("900.00"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	txn, err = svc.Process(ctx, testActor, txn.ID)
	if !errors.Is(err, account.ErrInsufficientFunds) {
		t.Fatalf("process: err = %v, want wrapped ErrInsufficientFunds", err)
	}
	// The refused audit append must surface alongside the movement failure.
	if err == nil || !strings.Contains(err.Error(), "audit failure entry") {
		t.Errorf("append failure not surfaced: %v", err)
	}
	if txn == nil || txn.Status != StatusFailed {
		t.Fatalf("returned transaction = %+v, want failed", txn)
	}
}

func TestServiceRetry_AfterFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openFunded(t, "10.00")

	txn, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID: a.ID, Type: TypeWithdrawal, Amount: money.MustParse("900.00"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Process(ctx, testActor, txn.ID); err == nil {
		t.Fatal("process should fail on insufficient funds")
	}

	txn, err = env.svc.Retry(ctx, testActor, txn.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if txn.Status != StatusPending || txn.RetryCount != 1 {
		t.Fatalf("after retry: status=%s retries=%d", txn.Status, txn.RetryCount)
	}
	if e := env.lastEntry(t); e.Action != audit.ActionTxnRetried {
		t.Errorf("audit action = %s, want %s", e.Action, audit.ActionTxnRetried)
	}

	// Fund the account; the retried transaction now completes.
	if _, err := env.accounts.Credit(ctx, testActor, a.ID, money.MustParse("1000.00"), account.KindDeposit); err != nil {
		t.Fatalf("credit: %v", err)
	}
	txn, err = env.svc.Process(ctx, testActor, txn.ID)
	if err != nil {
		t.Fatalf("process retried: %v", err)
	}
	if txn.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", txn.Status)
	}
}

func TestServiceCancel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openFunded(t, "500.00")

	txn, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID: a.ID, Type: TypePayment, Amount: money.MustParse("25.00"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	txn, err = env.svc.Cancel(ctx, testActor, txn.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if txn.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", txn.Status)
	}
	if e := env.lastEntry(t); e.Action != audit.ActionTxnCancelled {
		t.Errorf("audit action = %s, want %s", e.Action, audit.ActionTxnCancelled)
	}
	if _, err := env.svc.Process(ctx, testActor, txn.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("process cancelled: err = %v, want ErrInvalidStateTransition", err)
	}
}

func TestServiceReject(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openTyped(t, account.TypeBusiness, "50000.00")

	txn, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID:  a.ID,
		Type:       TypeTransferExternal,
		Amount:     money.MustParse("15000.00"),
		DestNumber: "EXT-12345",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	txn, err = env.svc.Reject(ctx, testActor, txn.ID, "ops-lead", "recipient unverifiable")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if txn.Status != StatusRejected {
		t.Errorf("status = %s, want rejected", txn.Status)
	}
	if e := env.lastEntry(t); e.Action != audit.ActionTxnRejected {
		t.Errorf("audit action = %s, want %s", e.Action, audit.ActionTxnRejected)
	}
}

func TestServiceGet_NotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Get(context.Background(), "txn_missing"); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestServiceListByAccount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openFunded(t, "500.00")
	b := env.openFunded(t, "500.00")

	for i := 0; i < 3; i++ {
		if _, err := env.svc.Create(ctx, testActor, CreateRequest{
			AccountID: a.ID, Type: TypePayment, Amount: money.MustParse("5.00"),
		}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID: b.ID, Type: TypePayment, Amount: money.MustParse("5.00"),
	}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	list, err := env.svc.ListByAccount(ctx, a.ID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want limit 2", len(list))
	}
	for _, txn := range list {
		if txn.AccountID != a.ID {
			t.Errorf("listed foreign transaction %s", txn.ID)
		}
	}
}

func TestServiceAuditChain_VerifiesAfterLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.openFunded(t, "500.00")

	txn, err := env.svc.Create(ctx, testActor, CreateRequest{
		AccountID: a.ID, Type: TypeWithdrawal, Amount: money.MustParse("120.00"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Process(ctx, testActor, txn.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	ledger := audit.NewLedger(env.audits)
	if err := ledger.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if err := ledger.VerifyFullChain(ctx, 1, 0); err != nil {
		t.Fatalf("chain verification: %v", err)
	}
}
