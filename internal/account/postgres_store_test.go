//go:build integration

package account_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridianbank/core/internal/account"
	"github.com/meridianbank/core/internal/money"
	"github.com/meridianbank/core/internal/testutil"
)

func TestPostgresRepository_CreateGetRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	repo := account.NewPostgresRepository(db)

	a, err := account.New("owner-1", account.TypeChecking, "USD")
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Number != a.Number || got.OwnerID != "owner-1" || got.Type != account.TypeChecking {
		t.Errorf("reloaded account = %+v", got)
	}
	if !got.Balance.Equal(a.Balance) || !got.OverdraftLimit.Equal(a.OverdraftLimit) {
		t.Errorf("balance = %s, overdraft = %s", money.Format(got.Balance), money.Format(got.OverdraftLimit))
	}
	if got.ClosedAt != nil || got.LastTransactionAt != nil {
		t.Errorf("fresh account has closed/transaction timestamps: %+v", got)
	}
}

func TestPostgresRepository_SavePersistsMutableState(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	repo := account.NewPostgresRepository(db)

	a, err := account.New("owner-1", account.TypeChecking, "USD")
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := a.Credit(money.MustParse("250.00"), account.KindDeposit, now); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := a.Debit(money.MustParse("75.00"), account.KindWithdrawal, now); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := repo.Save(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if money.Format(got.Balance) != "175.00" {
		t.Errorf("balance = %s, want 175.00", money.Format(got.Balance))
	}
	if got.LastTransactionAt == nil || !got.LastTransactionAt.Equal(now) {
		t.Errorf("last transaction at = %v, want %v", got.LastTransactionAt, now)
	}
}

func TestPostgresRepository_SaveUnknownAccount(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	repo := account.NewPostgresRepository(db)

	a, err := account.New("owner-1", account.TypeSavings, "USD")
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if err := repo.Save(ctx, a); !errors.Is(err, account.ErrAccountNotFound) {
		t.Fatalf("save err = %v, want ErrAccountNotFound", err)
	}
}

func TestPostgresRepository_ListFiltersByOwner(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	repo := account.NewPostgresRepository(db)

	for i := 0; i < 2; i++ {
		a, err := account.New("owner-a", account.TypeChecking, "USD")
		if err != nil {
			t.Fatalf("new account: %v", err)
		}
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	other, err := account.New("owner-b", account.TypeChecking, "USD")
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}

	got, err := repo.List(ctx, "owner-a", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("listed %d accounts, want 2", len(got))
	}
	for _, a := range got {
		if a.OwnerID != "owner-a" {
			t.Errorf("listed foreign account %s (owner %s)", a.ID, a.OwnerID)
		}
	}
}
