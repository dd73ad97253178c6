package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/lucasnoah/gatewright/internal/fsutil"
)

// FileDocStore keeps each ledger document as a plain file; the key is the
// file path. The conditional-write token is the content hash, checked
// under a lock file so two workers on one host cannot interleave a
// read-modify-write.
type FileDocStore struct{}

// NewFileDocStore returns a file-backed document store.
func NewFileDocStore() *FileDocStore {
	return &FileDocStore{}
}

func contentToken(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// Fetch implements DocStore.
func (f *FileDocStore) Fetch(ctx context.Context, key string) (Document, error) {
	path, err := fsutil.ExpandHome(key)
	if err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, fmt.Errorf("fetch %s: %w", key, ErrNotFound)
		}
		return Document{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	text := string(data)
	return Document{Key: key, Text: text, Token: contentToken(text)}, nil
}

// Write implements DocStore.
func (f *FileDocStore) Write(ctx context.Context, doc Document) error {
	path, err := fsutil.ExpandHome(doc.Key)
	if err != nil {
		return err
	}
	return fsutil.WithLock(ctx, path, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("write %s: %w", doc.Key, ErrNotFound)
			}
			return fmt.Errorf("write %s: %w", doc.Key, err)
		}
		if contentToken(string(data)) != doc.Token {
			return fmt.Errorf("write %s: %w", doc.Key, ErrTokenMismatch)
		}
		return fsutil.WriteFileAtomic(path, []byte(doc.Text), 0o644)
	})
}

// Create implements DocStore.
func (f *FileDocStore) Create(ctx context.Context, key, text string) error {
	path, err := fsutil.ExpandHome(key)
	if err != nil {
		return err
	}
	return fsutil.WithLock(ctx, path, func() error {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("create %s: %w", key, ErrExists)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("create %s: %w", key, err)
		}
		return fsutil.WriteFileAtomic(path, []byte(text), 0o644)
	})
}
