package account

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianbank/core/internal/audit"
	"github.com/meridianbank/core/internal/logging"
	"github.com/meridianbank/core/internal/money"
	"github.com/meridianbank/core/internal/syncutil"
	"github.com/meridianbank/core/internal/traces"
)

// Repository persists accounts. Save must be all-or-nothing with respect to
// the paired audit append; the Service compensates when the pair cannot be
// committed together.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	Save(ctx context.Context, a *Account) error
	List(ctx context.Context, ownerID string, limit int) ([]*Account, error)
}

// Service serializes account mutations per account id and pairs every
// successful mutation with one sealed audit entry.
type Service struct {
	repo   Repository
	ledger *audit.Ledger
	locks  syncutil.ContextShardedMutex
}

// NewService creates an account service over the given repository and
// audit ledger.
func NewService(repo Repository, ledger *audit.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// balanceSnapshot renders the state captured in audit old/new values.
type balanceSnapshot struct {
	Balance            string `json:"balance"`
	Available          string `json:"available"`
	DailyTransferred   string `json:"dailyTransferred"`
	MonthlyTransferred string `json:"monthlyTransferred"`
	Active             bool   `json:"active"`
}

func snapshot(a *Account) string {
	b, _ := json.Marshal(balanceSnapshot{
		Balance:            money.Format(a.Balance),
		Available:          money.Format(a.Available),
		DailyTransferred:   money.Format(a.DailyTransferred),
		MonthlyTransferred: money.Format(a.MonthlyTransferred),
		Active:             a.Active,
	})
	return string(b)
}

// Open creates a new account and records the opening.
func (s *Service) Open(ctx context.Context, actor audit.ActorContext, ownerID string, t Type, currency string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "account.open")
	defer span.End()
	defer observeOp("open")()

	a, err := New(ownerID, t, currency)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("account: create: %w", err)
	}

	if _, err := s.ledger.Append(ctx, &audit.Entry{
		Actor:       withAccount(actor.Actor, a.ID),
		Action:      audit.ActionAccountOpened,
		EntityType:  "account",
		EntityID:    a.ID,
		Description: fmt.Sprintf("opened %s account %s", a.Type, a.Number),
		NewValue:    snapshot(a),
		Origin:      actor.Origin,
	}); err != nil {
		logging.L(ctx).Error("audit append failed after account create", "account_id", a.ID, "error", err)
		return nil, err
	}
	return a, nil
}

// mutate loads the account under its lock, applies fn, saves, and appends
// the audit entry fn prepared. If the save or the append fails the prior
// persisted state is restored, so no half-committed mutation is observable.
func (s *Service) mutate(ctx context.Context, id string, op string, fn func(a *Account) (*audit.Entry, error)) (*Account, error) {
	defer observeOp(op)()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *a

	entry, err := fn(a)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// No-op operations (e.g. interest with no whole day elapsed)
		// emit nothing and persist nothing.
		return a, nil
	}
	entry.OldValue = snapshot(&before)
	entry.NewValue = snapshot(a)

	if err := s.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("account: save %s: %w", id, err)
	}
	if _, err := s.ledger.Append(ctx, entry); err != nil {
		// The mutation may not stand without its audit record.
		if rbErr := s.repo.Save(ctx, &before); rbErr != nil {
			logging.L(ctx).Error("rollback failed after audit append failure",
				"account_id", id, "op", op, "error", rbErr)
		}
		return nil, err
	}
	return a, nil
}

// Debit removes funds from the account.
func (s *Service) Debit(ctx context.Context, actor audit.ActorContext, id string, amount decimal.Decimal, kind Kind) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "account.debit", traces.AccountID(id), traces.Amount(money.Format(amount)))
	defer span.End()

	return s.mutate(ctx, id, "debit", func(a *Account) (*audit.Entry, error) {
		if err := a.Debit(amount, kind, time.Now()); err != nil {
			return nil, err
		}
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionAccountDebited,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: fmt.Sprintf("debit %s %s (%s)", money.Format(amount), a.Currency, kind),
			Origin:      actor.Origin,
		}, nil
	})
}

// Credit adds funds to the account.
func (s *Service) Credit(ctx context.Context, actor audit.ActorContext, id string, amount decimal.Decimal, kind Kind) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "account.credit", traces.AccountID(id), traces.Amount(money.Format(amount)))
	defer span.End()

	return s.mutate(ctx, id, "credit", func(a *Account) (*audit.Entry, error) {
		if err := a.Credit(amount, kind, time.Now()); err != nil {
			return nil, err
		}
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionAccountCredited,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: fmt.Sprintf("credit %s %s (%s)", money.Format(amount), a.Currency, kind),
			Origin:      actor.Origin,
		}, nil
	})
}

// Hold reserves funds against the available balance.
func (s *Service) Hold(ctx context.Context, actor audit.ActorContext, id string, amount decimal.Decimal) (*Account, error) {
	return s.mutate(ctx, id, "hold", func(a *Account) (*audit.Entry, error) {
		if err := a.Hold(amount); err != nil {
			return nil, err
		}
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionHoldPlaced,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: fmt.Sprintf("hold %s %s", money.Format(amount), a.Currency),
			Origin:      actor.Origin,
		}, nil
	})
}

// Release returns held funds to the available balance.
func (s *Service) Release(ctx context.Context, actor audit.ActorContext, id string, amount decimal.Decimal) (*Account, error) {
	return s.mutate(ctx, id, "release", func(a *Account) (*audit.Entry, error) {
		if err := a.Release(amount); err != nil {
			return nil, err
		}
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionHoldReleased,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: fmt.Sprintf("release %s %s", money.Format(amount), a.Currency),
			Origin:      actor.Origin,
		}, nil
	})
}

// AccrueInterest credits interest for the elapsed whole days, if any.
func (s *Service) AccrueInterest(ctx context.Context, actor audit.ActorContext, id string) (*Account, error) {
	return s.mutate(ctx, id, "accrue_interest", func(a *Account) (*audit.Entry, error) {
		accrued, err := a.AccrueInterest(time.Now())
		if err != nil {
			return nil, err
		}
		if accrued.IsZero() {
			return nil, nil
		}
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionInterestAccrued,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: fmt.Sprintf("interest accrued %s %s", money.Format(accrued), a.Currency),
			Origin:      actor.Origin,
		}, nil
	})
}

// ChargeMaintenanceFee debits the monthly maintenance fee when due.
func (s *Service) ChargeMaintenanceFee(ctx context.Context, actor audit.ActorContext, id string) (*Account, error) {
	return s.mutate(ctx, id, "maintenance_fee", func(a *Account) (*audit.Entry, error) {
		charged, err := a.ChargeMaintenanceFee(time.Now())
		if err != nil {
			return nil, err
		}
		if charged.IsZero() {
			return nil, nil
		}
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionFeeCharged,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: fmt.Sprintf("maintenance fee %s %s", money.Format(charged), a.Currency),
			Origin:      actor.Origin,
		}, nil
	})
}

// Close deactivates a zero-balance account.
func (s *Service) Close(ctx context.Context, actor audit.ActorContext, id string) (*Account, error) {
	return s.mutate(ctx, id, "close", func(a *Account) (*audit.Entry, error) {
		if err := a.Close(time.Now()); err != nil {
			return nil, err
		}
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionAccountClosed,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: fmt.Sprintf("closed account %s", a.Number),
			Origin:      actor.Origin,
		}, nil
	})
}

// Reactivate reopens a closed account.
func (s *Service) Reactivate(ctx context.Context, actor audit.ActorContext, id string) (*Account, error) {
	return s.mutate(ctx, id, "reactivate", func(a *Account) (*audit.Entry, error) {
		if err := a.Reactivate(); err != nil {
			return nil, err
		}
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionAccountReactivated,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: fmt.Sprintf("reactivated account %s", a.Number),
			Origin:      actor.Origin,
		}, nil
	})
}

// UpdateTransferLimits widens a business account's transfer limits.
func (s *Service) UpdateTransferLimits(ctx context.Context, actor audit.ActorContext, id string, daily, monthly decimal.Decimal) (*Account, error) {
	return s.mutate(ctx, id, "update_limits", func(a *Account) (*audit.Entry, error) {
		if err := a.UpdateTransferLimits(daily, monthly); err != nil {
			return nil, err
		}
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionLimitsUpdated,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: fmt.Sprintf("transfer limits set to %s daily / %s monthly", money.Format(daily), money.Format(monthly)),
			Severity:    audit.SeverityWarning,
			Origin:      actor.Origin,
		}, nil
	})
}

// ResetDailyCounters zeroes the daily counters of one account. Called by
// the external scheduler collaborator.
func (s *Service) ResetDailyCounters(ctx context.Context, actor audit.ActorContext, id string) (*Account, error) {
	return s.mutate(ctx, id, "reset_daily", func(a *Account) (*audit.Entry, error) {
		a.ResetDailyCounters()
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionCountersReset,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: "daily counters reset",
			Origin:      actor.Origin,
		}, nil
	})
}

// ResetMonthlyCounters zeroes the monthly counters of one account.
func (s *Service) ResetMonthlyCounters(ctx context.Context, actor audit.ActorContext, id string) (*Account, error) {
	return s.mutate(ctx, id, "reset_monthly", func(a *Account) (*audit.Entry, error) {
		a.ResetMonthlyCounters()
		return &audit.Entry{
			Actor:       withAccount(actor.Actor, a.ID),
			Action:      audit.ActionCountersReset,
			EntityType:  "account",
			EntityID:    a.ID,
			Description: "monthly counters reset",
			Origin:      actor.Origin,
		}, nil
	})
}

// Transfer moves funds between two accounts. Both locks are taken in a
// fixed global order so concurrent opposite-direction transfers cannot
// deadlock. The audit entry commits only after both legs are saved; a
// failed second leg rolls back the first before the error is reported.
func (s *Service) Transfer(ctx context.Context, actor audit.ActorContext, fromID, toID string, amount decimal.Decimal) error {
	ctx, span := traces.StartSpan(ctx, "account.transfer",
		traces.AccountID(fromID), traces.Amount(money.Format(amount)))
	defer span.End()
	defer observeOp("transfer")()

	if fromID == toID {
		return fmt.Errorf("account: transfer to self")
	}

	unlock, err := s.locks.LockPairContext(ctx, fromID, toID)
	if err != nil {
		return err
	}
	defer unlock()

	from, err := s.repo.Get(ctx, fromID)
	if err != nil {
		return err
	}
	to, err := s.repo.Get(ctx, toID)
	if err != nil {
		return err
	}
	beforeFrom, beforeTo := *from, *to

	now := time.Now()
	if err := from.Debit(amount, KindTransfer, now); err != nil {
		return err
	}
	if err := to.Credit(amount, KindTransfer, now); err != nil {
		return err
	}

	if err := s.repo.Save(ctx, from); err != nil {
		return fmt.Errorf("account: save debit leg: %w", err)
	}
	if err := s.repo.Save(ctx, to); err != nil {
		// Roll back the persisted debit leg before reporting.
		if rbErr := s.repo.Save(ctx, &beforeFrom); rbErr != nil {
			logging.L(ctx).Error("rollback of debit leg failed",
				"from", fromID, "to", toID, "error", rbErr)
		}
		return fmt.Errorf("account: save credit leg: %w", err)
	}

	if _, err := s.ledger.Append(ctx, &audit.Entry{
		Actor:       withAccount(actor.Actor, fromID),
		Action:      audit.ActionTransferCompleted,
		EntityType:  "account",
		EntityID:    fromID,
		Description: fmt.Sprintf("transfer %s %s to account %s", money.Format(amount), from.Currency, to.Number),
		OldValue:    snapshot(&beforeFrom),
		NewValue:    snapshot(from),
		Origin:      actor.Origin,
	}); err != nil {
		if rbErr := s.repo.Save(ctx, &beforeFrom); rbErr != nil {
			logging.L(ctx).Error("rollback of debit leg failed", "from", fromID, "error", rbErr)
		}
		if rbErr := s.repo.Save(ctx, &beforeTo); rbErr != nil {
			logging.L(ctx).Error("rollback of credit leg failed", "to", toID, "error", rbErr)
		}
		return err
	}
	return nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.repo.Get(ctx, id)
}

// List returns an owner's accounts.
func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]*Account, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.List(ctx, ownerID, limit)
}

func withAccount(a audit.Actor, accountID string) audit.Actor {
	if a.AccountID == "" {
		a.AccountID = accountID
	}
	return a
}
