package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "workspace-cli"

	// keyringIndexKey holds the account index, since OS secret stores have
	// no portable enumeration API.
	keyringIndexKey = "__accounts__"
)

// keyringFuncs abstracts the go-keyring package for testing.
type keyringFuncs struct {
	set    func(service, user, secret string) error
	get    func(service, user string) (string, error)
	delete func(service, user string) error
}

// KeyringStore persists token records in the OS secret service (Keychain on
// macOS, Secret Service on Linux, Credential Manager on Windows).
type KeyringStore struct {
	kr keyringFuncs
	mu sync.Mutex
}

var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a store backed by the OS secret service.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{
		kr: keyringFuncs{
			set:    keyring.Set,
			get:    keyring.Get,
			delete: keyring.Delete,
		},
	}
}

func (s *KeyringStore) Put(ctx context.Context, account string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode token record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kr.set(keyringService, account, string(data)); err != nil {
		return classifyKeyringErr(err)
	}
	return s.updateIndex(account, true)
}

func (s *KeyringStore) Get(ctx context.Context, account string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	secret, err := s.kr.get(keyringService, account)
	if err != nil {
		return Record{}, classifyKeyringErr(err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(secret), &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.AccessToken == "" {
		return Record{}, ErrCorrupt
	}
	return rec, nil
}

func (s *KeyringStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kr.delete(keyringService, account); err != nil {
		cerr := classifyKeyringErr(err)
		if !errors.Is(cerr, ErrNotFound) {
			return cerr
		}
	}
	return s.updateIndex(account, false)
}

func (s *KeyringStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accounts, err := s.readIndex()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return accounts, nil
}

func (s *KeyringStore) readIndex() ([]string, error) {
	secret, err := s.kr.get(keyringService, keyringIndexKey)
	if err != nil {
		return nil, classifyKeyringErr(err)
	}
	var accounts []string
	if err := json.Unmarshal([]byte(secret), &accounts); err != nil {
		return nil, fmt.Errorf("%w: account index: %v", ErrCorrupt, err)
	}
	return accounts, nil
}

func (s *KeyringStore) updateIndex(account string, present bool) error {
	accounts, err := s.readIndex()
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCorrupt) {
		return err
	}

	set := make(map[string]struct{}, len(accounts)+1)
	for _, a := range accounts {
		set[a] = struct{}{}
	}
	if present {
		set[account] = struct{}{}
	} else {
		delete(set, account)
	}

	updated := make([]string, 0, len(set))
	for a := range set {
		updated = append(updated, a)
	}
	sort.Strings(updated)

	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode account index: %w", err)
	}
	if err := s.kr.set(keyringService, keyringIndexKey, string(data)); err != nil {
		return classifyKeyringErr(err)
	}
	return nil
}

// classifyKeyringErr maps go-keyring failures onto store errors. Anything
// other than a clean not-found means the secret service cannot be relied on,
// which triggers the file-backend fallback in the chain store.
func classifyKeyringErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, keyring.ErrUnsupportedPlatform):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
