package audit

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store with PostgreSQL. The audit_entries table
// carries a UNIQUE constraint on sequence, so even a misbehaving second
// writer cannot produce two entries with the same sequence number.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, actor_user_id, actor_account_id, actor_transaction_id,
			action, entity_type, entity_id, description,
			old_value, new_value, occurred_at,
			ip_address, user_agent, device_fingerprint, session_id,
			severity, sequence, prev_hash, hash, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, entry.ID, entry.Actor.UserID, entry.Actor.AccountID, entry.Actor.TransactionID,
		string(entry.Action), entry.EntityType, entry.EntityID, entry.Description,
		entry.OldValue, entry.NewValue, entry.Timestamp,
		entry.Origin.IPAddress, entry.Origin.UserAgent, entry.Origin.DeviceFingerprint, entry.Origin.SessionID,
		string(entry.Severity), entry.Sequence, entry.PrevHash.Hash(), entry.Hash, entry.Signature)
	return err
}

const entryColumns = `
	id, COALESCE(actor_user_id, ''), COALESCE(actor_account_id, ''), COALESCE(actor_transaction_id, ''),
	action, entity_type, entity_id, COALESCE(description, ''),
	COALESCE(old_value, ''), COALESCE(new_value, ''), occurred_at,
	COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(device_fingerprint, ''), COALESCE(session_id, ''),
	severity, sequence, prev_hash, hash, COALESCE(signature, '')`

func (p *PostgresStore) ReadRange(ctx context.Context, fromSeq, toSeq uint64) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM audit_entries
		WHERE sequence >= $1 AND sequence <= $2
		ORDER BY sequence ASC
	`, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) ReadLast(ctx context.Context) (*Entry, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT ` + entryColumns + `
		FROM audit_entries
		ORDER BY sequence DESC
		LIMIT 1
	`)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var action, severity, prevHash string
	if err := row.Scan(
		&e.ID, &e.Actor.UserID, &e.Actor.AccountID, &e.Actor.TransactionID,
		&action, &e.EntityType, &e.EntityID, &e.Description,
		&e.OldValue, &e.NewValue, &e.Timestamp,
		&e.Origin.IPAddress, &e.Origin.UserAgent, &e.Origin.DeviceFingerprint, &e.Origin.SessionID,
		&severity, &e.Sequence, &prevHash, &e.Hash, &e.Signature,
	); err != nil {
		return nil, err
	}
	e.Action = Action(action)
	e.Severity = Severity(severity)
	e.Timestamp = e.Timestamp.UTC()
	if prevHash == "" {
		e.PrevHash = Genesis()
	} else {
		e.PrevHash = Linked(prevHash)
	}
	return e, nil
}
