package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/opensandbox/codespace/pkg/types"
)

// LocalStore serves files beneath a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) resolve(p string) (string, string, error) {
	rel, err := Clean(p)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", err, p)
	}
	return rel, filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

func (s *LocalStore) Read(_ context.Context, p string) ([]byte, error) {
	rel, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if rel == "." {
		return nil, fmt.Errorf("%w: cannot read workspace root", ErrInvalidPath)
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

func (s *LocalStore) List(_ context.Context, dir string) ([]types.EntryInfo, error) {
	rel, full, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}

	entries := make([]types.EntryInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := types.EntryInfo{
			Name:  de.Name(),
			IsDir: de.IsDir(),
			Path:  path.Join(rel, de.Name()),
		}
		if info, err := de.Info(); err == nil && !de.IsDir() {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *LocalStore) Write(_ context.Context, p string, data []byte) error {
	rel, full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: cannot write workspace root", ErrInvalidPath)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create parent of %s: %w", rel, err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func (s *LocalStore) Delete(_ context.Context, p string) error {
	rel, full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: cannot delete workspace root", ErrInvalidPath)
	}
	if _, err := os.Lstat(full); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}
