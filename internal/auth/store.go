package auth

import (
	"context"
	"errors"
)

// Store persists token records keyed by account identifier.
type Store interface {
	// Put writes the record for an account, replacing any existing one.
	Put(ctx context.Context, account string, rec Record) error

	// Get retrieves the record for an account. Returns ErrNotFound when the
	// account has no record and ErrCorrupt when a record exists but cannot
	// be decoded.
	Get(ctx context.Context, account string) (Record, error)

	// Delete removes the record for an account. Deleting a nonexistent
	// account is not an error.
	Delete(ctx context.Context, account string) error

	// List enumerates accounts that have a persisted record.
	List(ctx context.Context) ([]string, error)
}

var (
	// ErrNotFound indicates no record exists for the account.
	ErrNotFound = errors.New("auth: token record not found")

	// ErrCorrupt indicates the persisted record could not be decoded.
	// Callers treat this as "no token" and force re-authentication.
	ErrCorrupt = errors.New("auth: token record corrupt")

	// ErrUnavailable indicates the storage backend cannot be reached, for
	// example when no OS secret service is running.
	ErrUnavailable = errors.New("auth: token store unavailable")
)
