// Package attachments is the boundary to the external object store. The
// messaging core hands bytes over and persists only the returned reference;
// it never stores file contents itself.
package attachments

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cfolink/internal/messaging"
)

// Store accepts file bytes and returns a stable reference.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) (*messaging.Attachment, error)
}

// MaxAttachmentSize bounds a single upload.
const MaxAttachmentSize = 25 << 20 // 25 MiB

// LocalStore writes attachments under a directory and serves them from a
// base URL. Stands in for the marketplace's object store in self-hosted
// deployments.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put stores the bytes under a fresh id and returns the reference.
func (s *LocalStore) Put(_ context.Context, name string, r io.Reader, size int64) (*messaging.Attachment, error) {
	if size > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment exceeds %d bytes: %w", MaxAttachmentSize, messaging.ErrInvalidMessage)
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(r, MaxAttachmentSize+1))
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write attachment: %w", err)
	}
	if written > MaxAttachmentSize {
		os.Remove(path)
		return nil, fmt.Errorf("attachment exceeds %d bytes: %w", MaxAttachmentSize, messaging.ErrInvalidMessage)
	}

	return &messaging.Attachment{
		ID:   id,
		URL:  s.baseURL + "/" + id,
		Name: filepath.Base(name),
		Size: written,
	}, nil
}
