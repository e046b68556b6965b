package audit

import "errors"

var (
	// ErrAppendConflict is returned when two concurrent appends contend
	// for the same chain. It is recoverable; the Writer retries a bounded
	// number of times before surfacing it to the caller.
	ErrAppendConflict = errors.New("concurrent append on the same chain")

	// ErrMalformedEntry is returned when an entry is missing fields the
	// canonical encoding requires. It is fatal: a hash cannot be computed
	// or checked for an entry that cannot be canonicalized.
	ErrMalformedEntry = errors.New("entry is missing required fields")

	// ErrChainLocked is returned by the in-memory repository when a
	// chain lock cannot be acquired before the context is done.
	ErrChainLocked = errors.New("chain lock unavailable")

	// ErrNilRepository is returned when a Writer is constructed without
	// a repository.
	ErrNilRepository = errors.New("entry repository cannot be nil")

	// ErrNilSecretStore is returned when a Writer is constructed without
	// a secret store.
	ErrNilSecretStore = errors.New("secret store cannot be nil")
)
