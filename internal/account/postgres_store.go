package account

import (
	"context"
	"database/sql"
)

// PostgresRepository implements Repository with PostgreSQL. Amounts are
// stored as NUMERIC(20,2) and scanned straight into decimal.Decimal.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a PostgreSQL-backed account repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) Create(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, number, owner_id, type, currency, balance, available,
			daily_transferred, monthly_transferred, withdrawals_this_month,
			daily_transfer_limit, monthly_transfer_limit, overdraft_limit,
			interest_rate, maintenance_fee, free_withdrawals, withdrawal_fee,
			active, opened_at, closed_at, last_transaction_at, last_interest_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, a.ID, a.Number, a.OwnerID, string(a.Type), a.Currency, a.Balance, a.Available,
		a.DailyTransferred, a.MonthlyTransferred, a.WithdrawalsThisMonth,
		a.DailyTransferLimit, a.MonthlyTransferLimit, a.OverdraftLimit,
		a.InterestRate, a.MaintenanceFee, a.FreeWithdrawals, a.WithdrawalFee,
		a.Active, a.OpenedAt, a.ClosedAt, a.LastTransactionAt, a.LastInterestAt)
	return err
}

const accountColumns = `
	id, number, owner_id, type, currency, balance, available,
	daily_transferred, monthly_transferred, withdrawals_this_month,
	daily_transfer_limit, monthly_transfer_limit, overdraft_limit,
	interest_rate, maintenance_fee, free_withdrawals, withdrawal_fee,
	active, opened_at, closed_at, last_transaction_at, last_interest_at`

func (p *PostgresRepository) Get(ctx context.Context, id string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1
	`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresRepository) Save(ctx context.Context, a *Account) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET
			balance = $2, available = $3,
			daily_transferred = $4, monthly_transferred = $5, withdrawals_this_month = $6,
			daily_transfer_limit = $7, monthly_transfer_limit = $8,
			active = $9, closed_at = $10, last_transaction_at = $11, last_interest_at = $12
		WHERE id = $1
	`, a.ID, a.Balance, a.Available,
		a.DailyTransferred, a.MonthlyTransferred, a.WithdrawalsThisMonth,
		a.DailyTransferLimit, a.MonthlyTransferLimit,
		a.Active, a.ClosedAt, a.LastTransactionAt, a.LastInterestAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresRepository) List(ctx context.Context, ownerID string, limit int) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE owner_id = $1 ORDER BY opened_at DESC LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	a := &Account{}
	var typ string
	var closedAt, lastTxn sql.NullTime
	if err := row.Scan(
		&a.ID, &a.Number, &a.OwnerID, &typ, &a.Currency, &a.Balance, &a.Available,
		&a.DailyTransferred, &a.MonthlyTransferred, &a.WithdrawalsThisMonth,
		&a.DailyTransferLimit, &a.MonthlyTransferLimit, &a.OverdraftLimit,
		&a.InterestRate, &a.MaintenanceFee, &a.FreeWithdrawals, &a.WithdrawalFee,
		&a.Active, &a.OpenedAt, &closedAt, &lastTxn, &a.LastInterestAt,
	); err != nil {
		return nil, err
	}
	a.Type = Type(typ)
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		a.ClosedAt = &t
	}
	if lastTxn.Valid {
		t := lastTxn.Time.UTC()
		a.LastTransactionAt = &t
	}
	a.OpenedAt = a.OpenedAt.UTC()
	a.LastInterestAt = a.LastInterestAt.UTC()
	return a, nil
}
