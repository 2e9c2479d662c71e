package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridianbank/core/internal/audit"
	"github.com/meridianbank/core/internal/idgen"
)

var (
	ErrAlreadyResolved = errors.New("risk: login attempt already resolved")
	ErrAttemptNotFound = errors.New("risk: login attempt not found")
)

// Outcome is the resolution of a login attempt, settable exactly once.
type Outcome string

const (
	OutcomeUnresolved Outcome = ""
	OutcomeSuccess    Outcome = "success"
	OutcomeFailure    Outcome = "failure"
)

// LoginAttempt is one authentication event. Signal flags and the score are
// fixed at creation; only the outcome may change, and only once.
type LoginAttempt struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Origin      audit.Origin    `json:"origin"`
	Flags       map[string]bool `json:"flags"`
	Score       int             `json:"score"`
	Level       Level           `json:"level"`
	Outcome     Outcome         `json:"outcome"`
	FailureNote string          `json:"failureNote,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ResolvedAt  *time.Time      `json:"resolvedAt,omitempty"`
}

// NewLoginAttempt scores the behavioral flags against the login profile
// and records them immutably on the attempt.
func NewLoginAttempt(userID string, origin audit.Origin, flags map[string]bool) *LoginAttempt {
	assessment := Evaluate(LoginProfile, flags)
	cp := make(map[string]bool, len(flags))
	for k, v := range flags {
		cp[k] = v
	}
	return &LoginAttempt{
		ID:        idgen.WithPrefix("login_"),
		UserID:    userID,
		Origin:    origin,
		Flags:     cp,
		Score:     assessment.Score,
		Level:     assessment.Level,
		Outcome:   OutcomeUnresolved,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkSucceeded resolves the attempt as successful.
func (l *LoginAttempt) MarkSucceeded() error {
	if l.Outcome != OutcomeUnresolved {
		return ErrAlreadyResolved
	}
	now := time.Now().UTC()
	l.Outcome = OutcomeSuccess
	l.ResolvedAt = &now
	return nil
}

// MarkFailed resolves the attempt as failed with a note.
func (l *LoginAttempt) MarkFailed(note string) error {
	if l.Outcome != OutcomeUnresolved {
		return ErrAlreadyResolved
	}
	now := time.Now().UTC()
	l.Outcome = OutcomeFailure
	l.FailureNote = note
	l.ResolvedAt = &now
	return nil
}

// AttemptStore persists login attempts.
type AttemptStore interface {
	Create(ctx context.Context, a *LoginAttempt) error
	Get(ctx context.Context, id string) (*LoginAttempt, error)
	Update(ctx context.Context, a *LoginAttempt) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*LoginAttempt, error)
}

// LoginService records attempts and their resolutions to the audit ledger.
type LoginService struct {
	store  AttemptStore
	ledger *audit.Ledger
}

// NewLoginService creates a login risk service.
func NewLoginService(store AttemptStore, ledger *audit.Ledger) *LoginService {
	return &LoginService{store: store, ledger: ledger}
}

// Record scores and persists a new login attempt.
func (s *LoginService) Record(ctx context.Context, userID string, origin audit.Origin, flags map[string]bool) (*LoginAttempt, error) {
	attempt := NewLoginAttempt(userID, origin, flags)
	if err := s.store.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("risk: create login attempt: %w", err)
	}
	return attempt, nil
}

// ListByUser returns a user's login attempts, most recent first.
func (s *LoginService) ListByUser(ctx context.Context, userID string, limit int) ([]*LoginAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// Resolve marks the attempt's outcome and appends the matching audit entry.
func (s *LoginService) Resolve(ctx context.Context, id string, success bool, note string) (*LoginAttempt, error) {
	attempt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	action := audit.ActionLoginSucceeded
	severity := audit.SeverityInfo
	if success {
		err = attempt.MarkSucceeded()
	} else {
		err = attempt.MarkFailed(note)
		action = audit.ActionLoginFailed
		severity = audit.SeverityWarning
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, attempt); err != nil {
		return nil, fmt.Errorf("risk: update login attempt: %w", err)
	}
	if _, err := s.ledger.Append(ctx, &audit.Entry{
		Actor:       audit.Actor{UserID: attempt.UserID},
		Action:      action,
		EntityType:  "login_attempt",
		EntityID:    attempt.ID,
		Description: fmt.Sprintf("login %s (risk %s, score %d)", attempt.Outcome, attempt.Level, attempt.Score),
		Severity:    severity,
		Origin:      attempt.Origin,
	}); err != nil {
		return nil, err
	}
	return attempt, nil
}
