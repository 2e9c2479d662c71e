package transaction

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, account_id, number, type, amount, currency, description, status,
			created_at, processed_at, completed_at, scheduled_at,
			ip_address, user_agent, device_fingerprint, session_id,
			dest_account_id, dest_number, fee, balance_after,
			failure_reason, retry_count, recurring, parent_id,
			risk_level, fraud_flags, approved_by, approved_at, approval_notes, approval_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
	`, t.ID, t.AccountID, t.Number, string(t.Type), t.Amount, t.Currency, t.Description, string(t.Status),
		t.CreatedAt, t.ProcessedAt, t.CompletedAt, t.ScheduledAt,
		t.Origin.IPAddress, t.Origin.UserAgent, t.Origin.DeviceFingerprint, t.Origin.SessionID,
		t.DestAccountID, t.DestNumber, t.Fee, t.BalanceAfter,
		t.FailureReason, t.RetryCount, t.Recurring, t.ParentID,
		t.RiskLevel.String(), flagsArray(t.FraudFlags), t.ApprovedBy, t.ApprovedAt, t.ApprovalNotes, t.ApprovalReason)
	return err
}

// flagsArray maps a nil flag slice to an empty TEXT[], which the column
// requires.
func flagsArray(flags []string) interface {
	driver.Valuer
	sql.Scanner
} {
	if flags == nil {
		flags = []string{}
	}
	return pq.Array(flags)
}

const txnColumns = `
	id, account_id, number, type, amount, currency, COALESCE(description, ''), status,
	created_at, processed_at, completed_at, scheduled_at,
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(device_fingerprint, ''), COALESCE(session_id, ''),
	COALESCE(dest_account_id, ''), COALESCE(dest_number, ''), fee, balance_after,
	COALESCE(failure_reason, ''), retry_count, recurring, COALESCE(parent_id, ''),
	risk_level, fraud_flags, COALESCE(approved_by, ''), approved_at,
	COALESCE(approval_notes, ''), COALESCE(approval_reason, '')`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+txnColumns+` FROM transactions WHERE id = $1
	`, id)
	t, err := scanTxn(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Transaction) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			status = $2, processed_at = $3, completed_at = $4, scheduled_at = $5,
			balance_after = $6, failure_reason = $7, retry_count = $8,
			risk_level = $9, fraud_flags = $10,
			approved_by = $11, approved_at = $12, approval_notes = $13, approval_reason = $14
		WHERE id = $1
	`, t.ID, string(t.Status), t.ProcessedAt, t.CompletedAt, t.ScheduledAt,
		t.BalanceAfter, t.FailureReason, t.RetryCount,
		t.RiskLevel.String(), flagsArray(t.FraudFlags),
		t.ApprovedBy, t.ApprovedAt, t.ApprovalNotes, t.ApprovalReason)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTxn(row rowScanner) (*Transaction, error) {
	t := &Transaction{}
	var typ, status, riskLevel string
	var processedAt, completedAt, scheduledAt, approvedAt sql.NullTime
	var balanceAfter decimal.NullDecimal
	var flags pq.StringArray
	if err := row.Scan(
		&t.ID, &t.AccountID, &t.Number, &typ, &t.Amount, &t.Currency, &t.Description, &status,
		&t.CreatedAt, &processedAt, &completedAt, &scheduledAt,
		&t.Origin.IPAddress, &t.Origin.UserAgent, &t.Origin.DeviceFingerprint, &t.Origin.SessionID,
		&t.DestAccountID, &t.DestNumber, &t.Fee, &balanceAfter,
		&t.FailureReason, &t.RetryCount, &t.Recurring, &t.ParentID,
		&riskLevel, &flags, &t.ApprovedBy, &approvedAt,
		&t.ApprovalNotes, &t.ApprovalReason,
	); err != nil {
		return nil, err
	}
	t.Type = Type(typ)
	t.Status = Status(status)
	t.RiskLevel = riskLevelFromString(riskLevel)
	t.FraudFlags = []string(flags)
	t.CreatedAt = t.CreatedAt.UTC()
	if processedAt.Valid {
		v := processedAt.Time.UTC()
		t.ProcessedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time.UTC()
		t.CompletedAt = &v
	}
	if scheduledAt.Valid {
		v := scheduledAt.Time.UTC()
		t.ScheduledAt = &v
	}
	if approvedAt.Valid {
		v := approvedAt.Time.UTC()
		t.ApprovedAt = &v
	}
	if balanceAfter.Valid {
		t.BalanceAfter = &balanceAfter.Decimal
	}
	return t, nil
}

func riskLevelFromString(s string) RiskLevel {
	switch s {
	case "critical":
		return RiskCritical
	case "high":
		return RiskHigh
	case "medium":
		return RiskMedium
	}
	return RiskLow
}
