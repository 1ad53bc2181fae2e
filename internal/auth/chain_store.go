package auth

import (
	"context"
	"errors"
	"fmt"
)

// ChainStore composes a secure primary backend with a file-backed fallback.
// Writes and deletes go to the primary unless it is unavailable. Reads
// prefer the primary; when the primary is unavailable or has no record for
// the account, the fallback is consulted, so records written before a
// backend migration remain readable without ever merging conflicting data.
type ChainStore struct {
	primary  Store
	fallback Store
}

var _ Store = (*ChainStore)(nil)

// NewChainStore builds the standard keyring-first, file-fallback chain.
func NewChainStore(primary, fallback Store) (*ChainStore, error) {
	if primary == nil {
		return nil, errors.New("auth: primary store is nil")
	}
	if fallback == nil {
		return nil, errors.New("auth: fallback store is nil")
	}
	return &ChainStore{primary: primary, fallback: fallback}, nil
}

func (s *ChainStore) Put(ctx context.Context, account string, rec Record) error {
	err := s.primary.Put(ctx, account, rec)
	if err == nil {
		return nil
	}
	if !shouldFallBack(err) {
		return err
	}

	if ferr := s.fallback.Put(ctx, account, rec); ferr != nil {
		return fmt.Errorf("primary put failed: %w; fallback put failed: %w", err, ferr)
	}
	return nil
}

func (s *ChainStore) Get(ctx context.Context, account string) (Record, error) {
	rec, err := s.primary.Get(ctx, account)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, ErrCorrupt) || !fallbackWorthTrying(err) {
		return Record{}, err
	}

	rec, ferr := s.fallback.Get(ctx, account)
	if ferr == nil {
		return rec, nil
	}
	if errors.Is(ferr, ErrNotFound) || errors.Is(ferr, ErrCorrupt) {
		return Record{}, ferr
	}
	return Record{}, fmt.Errorf("primary get failed: %w; fallback get failed: %w", err, ferr)
}

func (s *ChainStore) Delete(ctx context.Context, account string) error {
	err := s.primary.Delete(ctx, account)
	if err != nil && !shouldFallBack(err) {
		return err
	}
	// Remove from the fallback as well so a later backend migration cannot
	// resurrect a logged-out account.
	if ferr := s.fallback.Delete(ctx, account); ferr != nil {
		if err != nil {
			return fmt.Errorf("primary delete failed: %w; fallback delete failed: %w", err, ferr)
		}
		return ferr
	}
	return nil
}

// List enumerates the active backend only, not a merge of both, to avoid
// phantom duplicate accounts after a backend migration.
func (s *ChainStore) List(ctx context.Context) ([]string, error) {
	accounts, err := s.primary.List(ctx)
	if err == nil && len(accounts) > 0 {
		return accounts, nil
	}
	if err != nil && !shouldFallBack(err) {
		return nil, err
	}
	return s.fallback.List(ctx)
}

// shouldFallBack reports whether a primary-backend failure should divert the
// operation to the fallback backend. Context cancellation is propagated.
func shouldFallBack(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}

// fallbackWorthTrying is shouldFallBack plus the not-found case, which on a
// read may mean the record predates a backend migration.
func fallbackWorthTrying(err error) bool {
	return shouldFallBack(err) || errors.Is(err, ErrNotFound)
}
