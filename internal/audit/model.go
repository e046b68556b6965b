// Package audit implements the tamper-evident audit trail: a per-chain
// hash chain over immutable audit entries, keyed by versioned secrets.
package audit

import (
	"time"
)

// SeedHash is the prev_hash used for the first hashed entry in a chain.
// It is a fixed, well-known value rather than an empty string so that a
// missing prev_hash and "first entry" are never conflated.
const SeedHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEntry is a single immutable record in a principal's audit chain.
// Entries are created once by the Writer and never updated or deleted.
// Entries written before hash chaining existed carry nil PrevHash/Hash
// ("grandfathered") and are skipped during verification.
type AuditEntry struct {
	ID           string
	ChainID      string
	CreatedAt    time.Time
	Action       string
	ResourceType string
	ResourceID   *string
	Metadata     map[string]any

	// Tamper-evidence fields. SecretVersion identifies the key that was
	// the default at write time; it is a write-time constant and never
	// changes when the default rotates.
	SecretVersion int
	PrevHash      *string
	Hash          *string
}

// Grandfathered reports whether the entry predates hash chaining.
func (e *AuditEntry) Grandfathered() bool {
	return e.Hash == nil
}

// Position identifies a point in a chain's total order. Entries within a
// chain are ordered by (CreatedAt, ID); the ID tie-break keeps the order
// deterministic even when timestamps collide.
type Position struct {
	CreatedAt time.Time
	ID        string
}

// Before reports whether p sorts strictly before other.
func (p Position) Before(other Position) bool {
	if p.CreatedAt.Equal(other.CreatedAt) {
		return p.ID < other.ID
	}
	return p.CreatedAt.Before(other.CreatedAt)
}

// IsZero reports whether p is the zero position (start of chain).
func (p Position) IsZero() bool {
	return p.CreatedAt.IsZero() && p.ID == ""
}

// EntryPosition returns the entry's position within its chain.
func EntryPosition(e *AuditEntry) Position {
	return Position{CreatedAt: e.CreatedAt, ID: e.ID}
}

// AppendRequest is the input for appending a new entry to a chain.
type AppendRequest struct {
	ChainID      string
	Action       string
	ResourceType string
	ResourceID   *string
	Metadata     map[string]any
}
