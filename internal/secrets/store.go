// Package secrets implements the versioned secret store that keys the
// audit hash chain. It is a deliberately narrow boundary: only the chain
// writer and the verifiers hold a Store, and raw key material is never
// exposed through the application's data surfaces.
package secrets

import (
	"context"
	"errors"
)

var (
	// ErrMissingSecret is returned when a referenced secret version does
	// not exist. It is always fatal to the operation that needed the
	// secret: an unknown version is indistinguishable from an attacker
	// removing a key to hide tampering, so it must never degrade to
	// "no signature required".
	ErrMissingSecret = errors.New("secret version not found")

	// ErrVersionExists is returned by AddSecret when the version has
	// already been issued. Secret versions are append-only.
	ErrVersionExists = errors.New("secret version already exists")

	// ErrNoDefaultVersion is returned when no default version has been
	// configured yet.
	ErrNoDefaultVersion = errors.New("no default secret version configured")

	// ErrInvalidVersion is returned for non-positive version numbers.
	ErrInvalidVersion = errors.New("secret version must be a positive integer")

	// ErrEmptySecret is returned when the key material is empty.
	ErrEmptySecret = errors.New("secret material cannot be empty")
)

// Store holds versioned key material for the audit chain.
//
// Versions are append-only and retained indefinitely: entries written
// under version N stay verifiable forever, regardless of how often the
// default rotates. Rotating the default never rewrites historical data.
type Store interface {
	// GetSecret returns the key material for a version, or
	// ErrMissingSecret if the version was never issued.
	GetSecret(ctx context.Context, version int) ([]byte, error)

	// AddSecret issues a new version. Overwriting an existing version is
	// rejected with ErrVersionExists.
	AddSecret(ctx context.Context, version int, secret []byte) error

	// SetDefaultVersion changes which version new appends use. The
	// version must already exist. Historical entries are untouched.
	SetDefaultVersion(ctx context.Context, version int) error

	// DefaultVersion returns the version new appends should use.
	DefaultVersion(ctx context.Context) (int, error)
}
