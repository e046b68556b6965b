package verify

// Break reasons, in order of how alarming they are. All three mean the
// chain can no longer be vouched for past the broken entry.
const (
	// ReasonHashMismatch: the recomputed hash differs from the stored
	// one. Tampering or corruption.
	ReasonHashMismatch = "hash_mismatch"

	// ReasonMissingSecret: the entry references a secret version that
	// cannot be resolved. Treated as a break, never a silent pass; a
	// deleted key is indistinguishable from an attacker hiding tampering.
	ReasonMissingSecret = "missing_secret"

	// ReasonMalformedEntry: a non-grandfathered entry is missing fields
	// required for canonicalization.
	ReasonMalformedEntry = "malformed_entry"
)

// Break describes the first point of divergence found in a chain.
type Break struct {
	ChainID  string `json:"chain_id"`
	EntryID  string `json:"entry_id"`
	Reason   string `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// ChainError records an internal failure (not a tamper signal) while
// checking one chain. A single chain's failure never aborts the rest of
// a run; it is carried here instead.
type ChainError struct {
	ChainID string
	Err     error
}

// Result is the outcome of a verification pass over one chain or over
// every chain.
//
// TotalEntries counts all entries examined, including grandfathered
// ones; VerifiedEntries counts entries whose hash was checked before any
// break. When multiple chains are verified, Break is the first break in
// deterministic (sorted chain ID) order.
type Result struct {
	Intact          bool
	TotalEntries    int64
	VerifiedEntries int64
	Break           *Break
	ChainsChecked   int
	ChainErrors     []ChainError
}

// Errored reports whether any chain hit an internal error during the
// pass. Distinct from a break: the data may be fine, the run was not.
func (r *Result) Errored() bool {
	return len(r.ChainErrors) > 0
}
