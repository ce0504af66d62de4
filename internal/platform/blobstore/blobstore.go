// Package blobstore provides content-addressable document storage for case
// attachments. Blobs are keyed by the sha256 of their content, so repeat
// uploads of the same bytes land on the same path.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
)

// MaxFileSize is the maximum allowed blob size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// AllowedContentTypes lists common medical file MIME types.
var AllowedContentTypes = map[string]bool{
	"image/png":         true,
	"image/jpeg":        true,
	"image/dicom":       true,
	"application/pdf":   true,
	"application/dicom": true,
	"text/plain":        true,
}

// Info describes a stored blob.
type Info struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the document-storage collaborator the case engine consumes:
// upload bytes and get back a stable path, download by path, delete by path.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (Info, error)
	Get(ctx context.Context, path string) ([]byte, Info, error)
	Delete(ctx context.Context, path string) error
}

// ValidateUpload enforces the size and content-type limits shared by every
// backend.
func ValidateUpload(data []byte, contentType string) error {
	if int64(len(data)) > MaxFileSize {
		return ErrFileTooLarge
	}
	if !AllowedContentTypes[contentType] {
		return fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	return nil
}

// HashPath returns the content-addressed path for a payload.
func HashPath(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data []byte
	info Info
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (s *MemoryStore) Put(_ context.Context, data []byte, contentType string) (Info, error) {
	if err := ValidateUpload(data, contentType); err != nil {
		return Info{}, err
	}

	path := HashPath(data)
	info := Info{
		Path:        path,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blobs[path]; ok {
		// Same content, same path; keep the original timestamp.
		return existing.info, nil
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.blobs[path] = memoryBlob{data: stored, info: info}
	return info, nil
}

func (s *MemoryStore) Get(_ context.Context, path string) ([]byte, Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[path]
	if !ok {
		return nil, Info{}, ErrBlobNotFound
	}
	out := make([]byte, len(blob.data))
	copy(out, blob.data)
	return out, blob.info, nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[path]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, path)
	return nil
}

// Len reports the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
