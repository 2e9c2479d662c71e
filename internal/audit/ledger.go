package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianbank/core/internal/idgen"
)

// Ledger owns the sequence counter and last-hash pointer, and is the single
// serialization point for appends. Two concurrent Append calls can never be
// assigned the same sequence number: the pointer read, the seal and the
// store write all happen under one mutex, and a failed write does not
// advance the pointers.
type Ledger struct {
	store  Store
	signer *Signer

	mu       sync.Mutex
	lastSeq  uint64
	lastHash ChainLink
}

// NewLedger creates a ledger over the given append-only store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// WithSigner enables HMAC countersigning of sealed entries.
func (l *Ledger) WithSigner(s *Signer) *Ledger {
	l.signer = s
	return l
}

// Recover initializes the sequence and hash pointers from the persisted
// tail. Must be called once at startup before the first Append when the
// store already holds entries.
func (l *Ledger) Recover(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, err := l.store.ReadLast(ctx)
	if err != nil {
		return fmt.Errorf("audit: recover tail: %w", err)
	}
	if last == nil {
		l.lastSeq = 0
		l.lastHash = Genesis()
		return nil
	}
	l.lastSeq = last.Sequence
	l.lastHash = Linked(last.Hash)
	return nil
}

// LastSequence returns the sequence of the most recently sealed entry.
func (l *Ledger) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// ReadRange returns sealed entries with fromSeq <= sequence <= toSeq.
func (l *Ledger) ReadRange(ctx context.Context, fromSeq, toSeq uint64) ([]*Entry, error) {
	return l.store.ReadRange(ctx, fromSeq, toSeq)
}

// Append seals the draft entry and persists it. It assigns the next
// sequence number, links to the previous hash, computes the chain hash and
// writes through the store. On store failure the ledger pointers are left
// unchanged and the error is returned. The caller retries or surfaces it,
// never drops it, because a gap would break the chain for every later
// entry.
func (l *Ledger) Append(ctx context.Context, draft *Entry) (*Entry, error) {
	if draft.Action == "" {
		return nil, ErrEmptyAction
	}
	if draft.Sealed() {
		return nil, ErrSealed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sealed := *draft
	if sealed.ID == "" {
		sealed.ID = idgen.WithPrefix("aud_")
	}
	if sealed.Severity == "" {
		sealed.Severity = SeverityInfo
	}
	if sealed.Timestamp.IsZero() {
		sealed.Timestamp = time.Now().UTC()
	} else {
		sealed.Timestamp = sealed.Timestamp.UTC()
	}

	sealed.Sequence = l.lastSeq + 1
	sealed.PrevHash = l.lastHash
	sealed.Hash = ComputeHash(&sealed, sealed.Sequence, sealed.PrevHash)
	sealed.Signature = l.signer.Sign(sealed.Hash)

	start := time.Now()
	if err := l.store.Append(ctx, &sealed); err != nil {
		appendFailures.Inc()
		return nil, fmt.Errorf("audit: append sequence %d: %w", sealed.Sequence, err)
	}
	observeAppend(string(sealed.Action), start)

	l.lastSeq = sealed.Sequence
	l.lastHash = Linked(sealed.Hash)
	lastSequenceGauge.Set(float64(l.lastSeq))

	return &sealed, nil
}

// VerifyEntry recomputes the hash from the entry's own fields, sequence and
// previous-hash link, and compares it to the stored hash.
func (l *Ledger) VerifyEntry(e *Entry) bool {
	return ComputeHash(e, e.Sequence, e.PrevHash) == e.Hash
}

// VerifyChain reports whether entry correctly links to prev. A nil prev is
// valid only for the genesis entry.
func (l *Ledger) VerifyChain(entry, prev *Entry) bool {
	if prev == nil {
		return entry.PrevHash.IsGenesis()
	}
	return entry.PrevHash.Hash() == prev.Hash
}

// VerifyFullChain walks entries in [fromSeq, toSeq] in sequence order,
// applying VerifyEntry and VerifyChain to each. It returns a *ChainError
// naming the first broken sequence, so an operator can localize tampering.
// toSeq == 0 means "through the current tail".
func (l *Ledger) VerifyFullChain(ctx context.Context, fromSeq, toSeq uint64) error {
	if fromSeq == 0 {
		fromSeq = 1
	}
	if toSeq == 0 {
		toSeq = l.LastSequence()
	}
	if toSeq < fromSeq {
		return nil
	}

	entries, err := l.store.ReadRange(ctx, fromSeq, toSeq)
	if err != nil {
		return fmt.Errorf("audit: read range [%d,%d]: %w", fromSeq, toSeq, err)
	}

	var prev *Entry
	expect := fromSeq
	for _, e := range entries {
		if e.Sequence != expect {
			chainFailures.Inc()
			return &ChainError{Sequence: expect, Reason: fmt.Sprintf("missing entry, found sequence %d", e.Sequence)}
		}
		if !l.VerifyEntry(e) {
			chainFailures.Inc()
			return &ChainError{Sequence: e.Sequence, Reason: "hash mismatch"}
		}
		// The first verified entry anchors the walk; its back-link is
		// checked only when the walk starts at the genesis entry.
		if prev != nil || fromSeq == 1 {
			if !l.VerifyChain(e, prev) {
				chainFailures.Inc()
				return &ChainError{Sequence: e.Sequence, Reason: "previous-hash mismatch"}
			}
		}
		prev = e
		expect++
	}
	if expect <= toSeq {
		chainFailures.Inc()
		return &ChainError{Sequence: expect, Reason: "missing entry"}
	}
	return nil
}
