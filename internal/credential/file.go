package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	storeDirMode = 0o700
	tokenFileMod = 0o600
)

// FileStore keeps one token per file below a root directory.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: filepath.Clean(dir)}
}

// DefaultDir returns the per-user token directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("credential: locate config dir: %w", err)
	}
	return filepath.Join(base, "finvoice", "tokens"), nil
}

// Put writes value for key with owner-only permissions.
func (s *FileStore) Put(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathForKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), storeDirMode); err != nil {
		return fmt.Errorf("credential: create token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(value), tokenFileMod); err != nil {
		return fmt.Errorf("credential: write token %q: %w", key, err)
	}
	return nil
}

// Get reads the token stored for key. Missing and blank files report
// [ErrNoCredential].
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.pathForKey(key)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("credential: token %q not found: %w", key, ErrNoCredential)
	}
	if err != nil {
		return "", fmt.Errorf("credential: read token %q: %w", key, err)
	}
	return nonEmpty(string(data))
}

// Delete removes the token for key. Deleting a missing token is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathForKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credential: delete token %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) pathForKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("credential: token key is empty")
	}
	cleaned := filepath.Clean(trimmed)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") || cleaned == "." {
		return "", fmt.Errorf("credential: invalid token key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}
