// Package audit implements an append-only, hash-chained audit ledger.
//
// Every state-changing operation on an account or transaction produces one
// sealed entry. Entries are stamped with a strictly increasing sequence
// number and the hash of their predecessor, so any later modification of a
// stored entry is detectable by re-walking the chain.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEntryNotFound = errors.New("audit: entry not found")
	ErrEmptyAction   = errors.New("audit: entry action is required")
	ErrSealed        = errors.New("audit: entry is already sealed")
)

// ChainError reports the first sequence number at which chain verification
// failed. It is never auto-repaired; the ledger is read-only once sealed.
type ChainError struct {
	Sequence uint64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit: chain broken at sequence %d: %s", e.Sequence, e.Reason)
}

// Action is the closed set of auditable operations.
type Action string

const (
	ActionAccountOpened      Action = "account.opened"
	ActionAccountCredited    Action = "account.credited"
	ActionAccountDebited     Action = "account.debited"
	ActionHoldPlaced         Action = "account.hold_placed"
	ActionHoldReleased       Action = "account.hold_released"
	ActionInterestAccrued    Action = "account.interest_accrued"
	ActionFeeCharged         Action = "account.fee_charged"
	ActionAccountClosed      Action = "account.closed"
	ActionAccountReactivated Action = "account.reactivated"
	ActionLimitsUpdated      Action = "account.limits_updated"
	ActionCountersReset      Action = "account.counters_reset"
	ActionTransferCompleted  Action = "account.transfer_completed"

	ActionTxnCreated          Action = "transaction.created"
	ActionTxnStarted          Action = "transaction.started"
	ActionTxnCompleted        Action = "transaction.completed"
	ActionTxnFailed           Action = "transaction.failed"
	ActionTxnCancelled        Action = "transaction.cancelled"
	ActionTxnRetried          Action = "transaction.retried"
	ActionTxnApprovalRequired Action = "transaction.approval_required"
	ActionTxnApproved         Action = "transaction.approved"
	ActionTxnRejected         Action = "transaction.rejected"
	ActionTxnRiskEscalated    Action = "transaction.risk_escalated"

	ActionLoginSucceeded Action = "login.succeeded"
	ActionLoginFailed    Action = "login.failed"

	ActionChainVerified Action = "chain.verified"
)

// Severity classifies how alarming an entry is to an operator.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Actor identifies who (or what) caused an entry. All fields are optional
// references by opaque id; the ledger never holds live domain objects.
type Actor struct {
	UserID        string `json:"userId,omitempty"`
	AccountID     string `json:"accountId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// Origin carries the provenance of the command that caused an entry. The
// authentication layer fills it in upstream; this core treats every field
// as an opaque string.
type Origin struct {
	IPAddress         string `json:"ipAddress,omitempty"`
	UserAgent         string `json:"userAgent,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	SessionID         string `json:"sessionId,omitempty"`
}

// ActorContext bundles actor and origin the way collaborators hand them to
// the core: one opaque provenance tag per command.
type ActorContext struct {
	Actor  Actor
	Origin Origin
}

// ChainLink is the tagged previous-hash reference. The first entry ever
// appended carries a genesis link; every later entry links to the hash of
// its predecessor. The zero value is the genesis link, so an incorrectly
// "missing" previous hash is unrepresentable.
type ChainLink struct {
	hash string
}

// Genesis returns the link used by the first entry of the chain.
func Genesis() ChainLink { return ChainLink{} }

// Linked returns a link to the given predecessor hash.
func Linked(prevHash string) ChainLink { return ChainLink{hash: prevHash} }

// IsGenesis reports whether this is the first-entry link.
func (l ChainLink) IsGenesis() bool { return l.hash == "" }

// Hash returns the predecessor hash, or the empty sentinel for genesis.
func (l ChainLink) Hash() string { return l.hash }

// Entry is one immutable fact about the system. Sequence, PrevHash and Hash
// are assigned exactly once by Ledger.Append; entries are never updated or
// deleted after that.
type Entry struct {
	ID          string    `json:"id"`
	Actor       Actor     `json:"actor"`
	Action      Action    `json:"action"`
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId"`
	Description string    `json:"description"`
	OldValue    string    `json:"oldValue,omitempty"` // opaque serialized snapshot
	NewValue    string    `json:"newValue,omitempty"` // opaque serialized snapshot
	Timestamp   time.Time `json:"timestamp"`
	Origin      Origin    `json:"origin"`
	Severity    Severity  `json:"severity"`

	Sequence  uint64    `json:"sequence"`
	PrevHash  ChainLink `json:"-"`
	Hash      string    `json:"hash"`
	Signature string    `json:"signature,omitempty"` // optional HMAC countersignature
}

// Sealed reports whether the entry has been stamped by the ledger.
func (e *Entry) Sealed() bool { return e.Sequence > 0 }

// Store is the abstract append-only store the ledger persists through.
// The interface carries no update or delete operation.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ReadRange(ctx context.Context, fromSeq, toSeq uint64) ([]*Entry, error)
	ReadLast(ctx context.Context) (*Entry, error)
}
