package risk

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresAttemptStore implements AttemptStore with PostgreSQL.
type PostgresAttemptStore struct {
	db *sql.DB
}

// NewPostgresAttemptStore creates a PostgreSQL-backed login attempt store.
func NewPostgresAttemptStore(db *sql.DB) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db}
}

func (p *PostgresAttemptStore) Create(ctx context.Context, a *LoginAttempt) error {
	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO login_attempts (
			id, user_id, ip_address, user_agent, device_fingerprint, session_id,
			flags, score, level, outcome, failure_note, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::JSONB, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.UserID, a.Origin.IPAddress, a.Origin.UserAgent, a.Origin.DeviceFingerprint, a.Origin.SessionID,
		string(flags), a.Score, a.Level.String(), string(a.Outcome), a.FailureNote, a.CreatedAt, a.ResolvedAt)
	return err
}

const attemptColumns = `
	id, user_id, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
	COALESCE(device_fingerprint, ''), COALESCE(session_id, ''),
	COALESCE(flags::TEXT, '{}'), score, level, COALESCE(outcome, ''),
	COALESCE(failure_note, ''), created_at, resolved_at`

func (p *PostgresAttemptStore) Get(ctx context.Context, id string) (*LoginAttempt, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+attemptColumns+` FROM login_attempts WHERE id = $1
	`, id)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, ErrAttemptNotFound
	}
	return a, err
}

func (p *PostgresAttemptStore) Update(ctx context.Context, a *LoginAttempt) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE login_attempts SET outcome = $2, failure_note = $3, resolved_at = $4
		WHERE id = $1
	`, a.ID, string(a.Outcome), a.FailureNote, a.ResolvedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (p *PostgresAttemptStore) ListByUser(ctx context.Context, userID string, limit int) ([]*LoginAttempt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+attemptColumns+` FROM login_attempts
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*LoginAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
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

func scanAttempt(row rowScanner) (*LoginAttempt, error) {
	a := &LoginAttempt{}
	var flagsJSON, level, outcome string
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&a.ID, &a.UserID, &a.Origin.IPAddress, &a.Origin.UserAgent,
		&a.Origin.DeviceFingerprint, &a.Origin.SessionID,
		&flagsJSON, &a.Score, &level, &outcome,
		&a.FailureNote, &a.CreatedAt, &resolvedAt,
	); err != nil {
		return nil, err
	}
	a.Outcome = Outcome(outcome)
	a.Level = levelFromString(level)
	if err := json.Unmarshal([]byte(flagsJSON), &a.Flags); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		a.ResolvedAt = &t
	}
	return a, nil
}

func levelFromString(s string) Level {
	switch s {
	case "critical":
		return Critical
	case "high":
		return High
	case "medium":
		return Medium
	}
	return Low
}
