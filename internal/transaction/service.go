package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meridianbank/core/internal/account"
	"github.com/meridianbank/core/internal/audit"
	"github.com/meridianbank/core/internal/money"
	"github.com/meridianbank/core/internal/risk"
	"github.com/meridianbank/core/internal/traces"
)

// ErrBlockedByRisk marks a transaction the risk scorer refused outright.
var ErrBlockedByRisk = errors.New("transaction: blocked by risk policy")

// Service drives the transaction state machine, moving funds through the
// account service and emitting one audit entry per transition.
type Service struct {
	store     Store
	accounts  *account.Service
	ledger    *audit.Ledger
	maxAmount decimal.Decimal
	locks     sync.Map // per-transaction ID locks, one transition at a time
}

// NewService creates a transaction service.
func NewService(store Store, accounts *account.Service, ledger *audit.Ledger) *Service {
	return &Service{
		store:     store,
		accounts:  accounts,
		ledger:    ledger,
		maxAmount: DefaultMaxAmount,
	}
}

// WithMaxAmount overrides the single-transaction ceiling.
func (s *Service) WithMaxAmount(max decimal.Decimal) *Service {
	s.maxAmount = max
	return s
}

// txnLock returns a mutex for the given transaction ID. This prevents
// concurrent state transitions (e.g. cancel and start racing).
func (s *Service) txnLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// CreateRequest carries the parameters for creating a transaction.
type CreateRequest struct {
	AccountID     string
	Type          Type
	Amount        decimal.Decimal
	Currency      string
	Description   string
	DestAccountID string
	DestNumber    string
	Recurring     bool
	ParentID      string
}

// Create validates and persists a new transaction. Risk is evaluated
// before anything commits: a High assessment parks the transaction for
// approval, a Critical one fails it immediately with ErrBlockedByRisk.
func (s *Service) Create(ctx context.Context, actor audit.ActorContext, req CreateRequest) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "transaction.create",
		traces.AccountID(req.AccountID), traces.Amount(money.Format(req.Amount)))
	defer span.End()

	t, err := New(req.AccountID, req.Type, req.Amount, req.Currency, req.Description, s.maxAmount)
	if err != nil {
		return nil, err
	}
	t.DestAccountID = req.DestAccountID
	t.DestNumber = req.DestNumber
	t.Recurring = req.Recurring
	t.ParentID = req.ParentID
	t.Origin = actor.Origin

	assessment := s.assessRisk(t)
	if assessment.Level > risk.Low {
		t.EscalateRisk(RiskLevel(assessment.Level), assessment.Summary())
	}

	blocked := assessment.Level == risk.Critical
	needsApproval := assessment.Level == risk.High

	switch {
	case blocked:
		_ = t.Fail("blocked by risk policy: " + assessment.Summary())
	case needsApproval:
		_ = t.RequireApproval("risk review: " + assessment.Summary())
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("transaction: create: %w", err)
	}

	entry := &audit.Entry{
		Actor:       actorFor(actor, t),
		Action:      audit.ActionTxnCreated,
		EntityType:  "transaction",
		EntityID:    t.ID,
		Description: fmt.Sprintf("created %s %s %s %s", t.Type, money.Format(t.Amount), t.Currency, t.Number),
		NewValue:    statusSnapshot(t),
		Origin:      actor.Origin,
	}
	if blocked {
		entry.Severity = audit.SeverityCritical
	} else if needsApproval {
		entry.Action = audit.ActionTxnApprovalRequired
		entry.Severity = audit.SeverityWarning
	}
	if _, err := s.ledger.Append(ctx, entry); err != nil {
		return nil, err
	}

	if blocked {
		return t, ErrBlockedByRisk
	}
	return t, nil
}

// assessRisk evaluates the transfer signal profile for this transaction.
func (s *Service) assessRisk(t *Transaction) *risk.Assessment {
	flags := map[string]bool{
		risk.SignalLargeAmount:  t.Amount.GreaterThanOrEqual(money.MustParse("10000.00")),
		risk.SignalExternalDest: t.Type == TypeTransferExternal,
		risk.SignalOffHours:     risk.IsOffHours(t.CreatedAt),
	}
	return risk.Evaluate(risk.TransferProfile, flags)
}

// Process executes a pending or scheduled transaction: start, move funds,
// complete. A funds-movement failure records a Failed transaction rather
// than propagating a half-applied state.
func (s *Service) Process(ctx context.Context, actor audit.ActorContext, id string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "transaction.process", traces.TransactionID(id))
	defer span.End()

	mu := s.txnLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := t.Start(); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("transaction: persist start: %w", err)
	}
	if _, err := s.ledger.Append(ctx, &audit.Entry{
		Actor:       actorFor(actor, t),
		Action:      audit.ActionTxnStarted,
		EntityType:  "transaction",
		EntityID:    t.ID,
		Description: fmt.Sprintf("processing %s", t.Number),
		Origin:      actor.Origin,
	}); err != nil {
		return nil, err
	}

	if moveErr := s.moveFunds(ctx, actor, t); moveErr != nil {
		_ = t.Fail(moveErr.Error())
		if err := s.store.Update(ctx, t); err != nil {
			return nil, fmt.Errorf("transaction: persist failure: %w", err)
		}
		// The failure entry must not vanish silently: a dropped append
		// leaves a Failed transaction with no trail, so the caller sees
		// both errors and can retry the append.
		if _, appendErr := s.ledger.Append(ctx, &audit.Entry{
			Actor:       actorFor(actor, t),
			Action:      audit.ActionTxnFailed,
			EntityType:  "transaction",
			EntityID:    t.ID,
			Description: fmt.Sprintf("%s failed: %s", t.Number, moveErr),
			Severity:    audit.SeverityWarning,
			Origin:      actor.Origin,
		}); appendErr != nil {
			return t, errors.Join(moveErr, fmt.Errorf("transaction: audit failure entry: %w", appendErr))
		}
		return t, moveErr
	}

	src, err := s.accounts.Get(ctx, t.AccountID)
	if err != nil {
		return nil, err
	}
	if err := t.Complete(src.Balance); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("transaction: persist completion: %w", err)
	}
	if _, err := s.ledger.Append(ctx, &audit.Entry{
		Actor:       actorFor(actor, t),
		Action:      audit.ActionTxnCompleted,
		EntityType:  "transaction",
		EntityID:    t.ID,
		Description: fmt.Sprintf("completed %s, balance %s", t.Number, money.Format(src.Balance)),
		NewValue:    statusSnapshot(t),
		Origin:      actor.Origin,
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// moveFunds applies the transaction to its account(s).
func (s *Service) moveFunds(ctx context.Context, actor audit.ActorContext, t *Transaction) error {
	switch t.Type {
	case TypeTransferInternal:
		return s.accounts.Transfer(ctx, actor, t.AccountID, t.DestAccountID, t.Amount)
	case TypeDeposit:
		_, err := s.accounts.Credit(ctx, actor, t.AccountID, t.Amount, account.KindDeposit)
		return err
	case TypeInterest:
		_, err := s.accounts.Credit(ctx, actor, t.AccountID, t.Amount, account.KindInterest)
		return err
	case TypeWithdrawal:
		_, err := s.accounts.Debit(ctx, actor, t.AccountID, t.Amount, account.KindWithdrawal)
		return err
	case TypeFee:
		_, err := s.accounts.Debit(ctx, actor, t.AccountID, t.Amount, account.KindFee)
		return err
	case TypeTransferExternal:
		_, err := s.accounts.Debit(ctx, actor, t.AccountID, t.Amount, account.KindTransfer)
		return err
	default: // payments
		_, err := s.accounts.Debit(ctx, actor, t.AccountID, t.Amount, account.KindPayment)
		return err
	}
}

// Cancel aborts a transaction that has not started processing.
func (s *Service) Cancel(ctx context.Context, actor audit.ActorContext, id string) (*Transaction, error) {
	return s.transition(ctx, actor, id, audit.ActionTxnCancelled, func(t *Transaction) error {
		return t.Cancel()
	})
}

// Retry resets a failed transaction to pending, consuming one retry.
func (s *Service) Retry(ctx context.Context, actor audit.ActorContext, id string) (*Transaction, error) {
	return s.transition(ctx, actor, id, audit.ActionTxnRetried, func(t *Transaction) error {
		return t.Retry()
	})
}

// Approve releases an approval-parked transaction back to pending.
func (s *Service) Approve(ctx context.Context, actor audit.ActorContext, id, by, notes string) (*Transaction, error) {
	return s.transition(ctx, actor, id, audit.ActionTxnApproved, func(t *Transaction) error {
		return t.Approve(by, notes)
	})
}

// Reject terminally refuses an approval-parked transaction.
func (s *Service) Reject(ctx context.Context, actor audit.ActorContext, id, by, reason string) (*Transaction, error) {
	return s.transition(ctx, actor, id, audit.ActionTxnRejected, func(t *Transaction) error {
		return t.Reject(by, reason)
	})
}

// transition runs one guarded state change under the transaction lock and
// appends its audit entry.
func (s *Service) transition(ctx context.Context, actor audit.ActorContext, id string, action audit.Action, fn func(*Transaction) error) (*Transaction, error) {
	mu := s.txnLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := statusSnapshot(t)

	if err := fn(t); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("transaction: persist %s: %w", action, err)
	}
	if _, err := s.ledger.Append(ctx, &audit.Entry{
		Actor:       actorFor(actor, t),
		Action:      action,
		EntityType:  "transaction",
		EntityID:    t.ID,
		Description: fmt.Sprintf("%s %s", action, t.Number),
		OldValue:    before,
		NewValue:    statusSnapshot(t),
		Origin:      actor.Origin,
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// ListByAccount returns an account's transactions, most recent first.
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}

func statusSnapshot(t *Transaction) string {
	return fmt.Sprintf(`{"status":%q,"retryCount":%d,"riskLevel":%q}`, t.Status, t.RetryCount, t.RiskLevel)
}

func actorFor(actor audit.ActorContext, t *Transaction) audit.Actor {
	a := actor.Actor
	if a.TransactionID == "" {
		a.TransactionID = t.ID
	}
	if a.AccountID == "" {
		a.AccountID = t.AccountID
	}
	return a
}
