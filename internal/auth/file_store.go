package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	tokenDirMode  = 0o700
	tokenFileMode = 0o600

	tokenFileSuffix = ".token.json"
)

// FileStore persists token records as one file per account under a private
// directory. Account identifiers may contain characters unsafe for file
// names (such as "@"), so file names use a hex encoding of the identifier.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: filepath.Clean(dir)}
}

// Put writes the record atomically: encode to a temp file in the same
// directory, then rename over the destination so readers never observe a
// partially written record.
func (s *FileStore) Put(ctx context.Context, account string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFor(account)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, tokenDirMode); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Chmod(tokenFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, account string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	path, err := s.pathFor(account)
	if err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read token file for %q: %w", account, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.AccessToken == "" {
		return Record{}, ErrCorrupt
	}
	return rec, nil
}

func (s *FileStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFor(account)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete token file for %q: %w", account, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list token directory: %w", err)
	}

	var accounts []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, tokenFileSuffix) {
			continue
		}
		encoded := strings.TrimSuffix(name, tokenFileSuffix)
		decoded, err := hex.DecodeString(encoded)
		if err != nil {
			// Not one of ours; skip rather than fail the enumeration.
			continue
		}
		accounts = append(accounts, string(decoded))
	}
	return accounts, nil
}

func (s *FileStore) pathFor(account string) (string, error) {
	if strings.TrimSpace(account) == "" {
		return "", errors.New("auth: account identifier is empty")
	}
	return filepath.Join(s.dir, hex.EncodeToString([]byte(account))+tokenFileSuffix), nil
}
