package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// canonicalEntry is the exact field set covered by an entry's hash.
// Changing this struct changes every hash in the system; existing chains
// would stop verifying.
type canonicalEntry struct {
	Action       string         `cbor:"action"`
	ResourceType string         `cbor:"resource_type"`
	ResourceID   *string        `cbor:"resource_id"`
	Metadata     map[string]any `cbor:"metadata"`
	CreatedAtUS  int64          `cbor:"created_at_us"`
}

// encMode is a deterministic CBOR encoder: sorted map keys, shortest-form
// integers. Two semantically equal entries always produce identical bytes.
var encMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("audit: invalid CBOR encoding options: %v", err))
	}
	encMode = em
}

// CanonicalBytes produces the deterministic byte encoding of the hashed
// fields of an entry. Timestamps are reduced to microseconds, matching
// the precision the database round-trips.
func CanonicalBytes(e *AuditEntry) ([]byte, error) {
	if e.Action == "" || e.ResourceType == "" || e.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: action, resource_type and created_at are required", ErrMalformedEntry)
	}
	ce := canonicalEntry{
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Metadata:     e.Metadata,
		CreatedAtUS:  e.CreatedAt.UnixMicro(),
	}
	data, err := encMode.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return data, nil
}

// ComputeHash computes the hex-encoded HMAC-SHA256 chain hash for an
// entry: HMAC(secret, prevHash || canonical(entry)). prevHash is SeedHash
// for the first hashed entry in a chain.
func ComputeHash(secret []byte, prevHash string, e *AuditEntry) (string, error) {
	canonical, err := CanonicalBytes(e)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(prevHash))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// HashEqual compares two hex hashes in constant time.
func HashEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// NormalizeMetadata round-trips metadata through JSON so the value types
// hashed at write time match what verification later reads back from the
// database (e.g. all numbers become float64). Returns nil for empty input.
func NormalizeMetadata(md map[string]any) (map[string]any, error) {
	if len(md) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not JSON-encodable: %v", ErrMalformedEntry, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return out, nil
}
