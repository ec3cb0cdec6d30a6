// Package storage reads and writes workspace files by workspace-relative
// path, on the local filesystem or in S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/opensandbox/codespace/pkg/types"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidPath = errors.New("invalid path")
)

// FileStore is the workspace file collaborator.
type FileStore interface {
	Read(ctx context.Context, p string) ([]byte, error)
	List(ctx context.Context, dir string) ([]types.EntryInfo, error)
	Write(ctx context.Context, p string, data []byte) error
	Delete(ctx context.Context, p string) error
}

// Clean normalizes a workspace-relative path and rejects any that would
// escape the workspace root. The root itself is returned as ".".
func Clean(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", ErrInvalidPath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return ".", nil
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}
