package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// hashPayload is the canonical struct digested for the chain hash.
// All fields are scalars or structs (no maps), so json.Marshal field order
// is deterministic and identical across process restarts and platforms.
// Timestamps are serialized in a fixed UTC format before marshalling.
type hashPayload struct {
	ID          string `json:"id"`
	ActorUser   string `json:"actorUser"`
	ActorAcct   string `json:"actorAcct"`
	ActorTxn    string `json:"actorTxn"`
	Action      string `json:"action"`
	EntityType  string `json:"entityType"`
	EntityID    string `json:"entityId"`
	Description string `json:"description"`
	OldValue    string `json:"oldValue"`
	NewValue    string `json:"newValue"`
	Timestamp   string `json:"timestamp"`
	IPAddress   string `json:"ipAddress"`
	UserAgent   string `json:"userAgent"`
	Device      string `json:"device"`
	SessionID   string `json:"sessionId"`
	Severity    string `json:"severity"`
	Sequence    uint64 `json:"sequence"`
	PrevHash    string `json:"prevHash"`
}

// canonicalTime renders a timestamp in the fixed format covered by the
// digest: nanosecond RFC 3339 in UTC, independent of the local zone.
func canonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ComputeHash returns the SHA-256 digest of the entry's fields plus the
// given sequence and previous-hash link. Pure and deterministic: any change
// to any covered field changes the output.
func ComputeHash(e *Entry, sequence uint64, prev ChainLink) string {
	payload := hashPayload{
		ID:          e.ID,
		ActorUser:   e.Actor.UserID,
		ActorAcct:   e.Actor.AccountID,
		ActorTxn:    e.Actor.TransactionID,
		Action:      string(e.Action),
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Description: e.Description,
		OldValue:    e.OldValue,
		NewValue:    e.NewValue,
		Timestamp:   canonicalTime(e.Timestamp),
		IPAddress:   e.Origin.IPAddress,
		UserAgent:   e.Origin.UserAgent,
		Device:      e.Origin.DeviceFingerprint,
		SessionID:   e.Origin.SessionID,
		Severity:    string(e.Severity),
		Sequence:    sequence,
		PrevHash:    prev.Hash(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// hashPayload contains only marshalable scalars.
		panic("audit: marshal hash payload: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Signer countersigns sealed entries with HMAC-SHA256. The chain hash alone
// proves internal consistency; the countersignature additionally binds each
// entry to a secret the storage layer never sees.
type Signer struct {
	secret []byte
}

// NewSigner creates an HMAC signer. If secret is empty, signing is disabled
// and the returned signer is nil (nil receivers are no-ops).
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

// Sign returns the HMAC-SHA256 countersignature over the entry's chain hash.
func (s *Signer) Sign(hash string) string {
	if s == nil {
		return ""
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an entry's countersignature.
func (s *Signer) Verify(hash, signature string) bool {
	if s == nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(hash))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
