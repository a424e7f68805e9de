package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BlobStore persists binary document content on disk under a single root.
// Blob paths are forward-slash relative paths ("users/u1/report.xlsx").
// Every blob carries an etag, the hex sha-256 of its content, so callers can
// detect concurrent modification between a read and a conditional write.
type BlobStore struct {
	root string
}

// NewBlobStore creates a blob store rooted at root, creating it if needed.
func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// Root returns the store's root directory.
func (b *BlobStore) Root() string {
	return b.root
}

// RelativePath converts an absolute file path under the root back to a blob
// path, or returns false if the path is outside the root.
func (b *BlobStore) RelativePath(absPath string) (string, bool) {
	rel, err := filepath.Rel(b.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Get returns the blob content and its etag.
func (b *BlobStore) Get(path string) ([]byte, string, error) {
	abs, err := b.resolve(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("blob %s: %w", path, ErrNotFound)
		}
		return nil, "", fmt.Errorf("read blob %s: %w", path, err)
	}
	return data, Etag(data), nil
}

// Put writes the blob unconditionally and returns the new etag.
func (b *BlobStore) Put(path string, data []byte) (string, error) {
	abs, err := b.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0600); err != nil {
		return "", fmt.Errorf("write blob %s: %w", path, err)
	}
	return Etag(data), nil
}

// PutIfMatch writes the blob only if its current etag equals ifMatch.
// Returns ErrEtagMismatch when the blob changed since it was read, and
// ErrNotFound when there is no blob to compare against.
func (b *BlobStore) PutIfMatch(path string, data []byte, ifMatch string) (string, error) {
	_, current, err := b.Get(path)
	if err != nil {
		return "", err
	}
	if current != ifMatch {
		return "", fmt.Errorf("blob %s: %w", path, ErrEtagMismatch)
	}
	return b.Put(path, data)
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (b *BlobStore) Delete(path string) error {
	abs, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", path, err)
	}
	return nil
}

// Stat returns a blob's size and modification time.
func (b *BlobStore) Stat(path string) (int64, time.Time, error) {
	abs, err := b.resolve(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, time.Time{}, fmt.Errorf("blob %s: %w", path, ErrNotFound)
		}
		return 0, time.Time{}, err
	}
	return info.Size(), info.ModTime(), nil
}

// resolve maps a blob path to an absolute path, rejecting escapes from root.
func (b *BlobStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(b.root, clean), nil
}

// Etag returns the etag for a blob content: hex sha-256 of the bytes.
func Etag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
