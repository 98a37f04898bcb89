// Package storage persists uploaded document files and issues signed
// time-limited URLs for retrieving them.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrObjectNotFound is returned when the key has no stored object
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that escape the storage root
	ErrInvalidKey = errors.New("invalid object key")
	// ErrSignatureInvalid is returned when a presigned URL fails verification
	ErrSignatureInvalid = errors.New("signature invalid or expired")
)

// ObjectInfo describes a stored object without its bytes
type ObjectInfo struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store is the blob-store contract used by the ingestion pipeline
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Presign(key string, ttl time.Duration) (string, error)
	Verify(key string, expires int64, signature string) error
}

// LocalStore keeps objects on the local filesystem under a root directory.
// Presigned URLs are HMAC-SHA256 signed paths served by the HTTP layer.
type LocalStore struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
	logger  *zap.Logger
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root, baseURL, secret string, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
		logger:  logger,
	}, nil
}

// Put writes the object, creating parent directories as needed
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	s.logger.Debug("Stored object",
		zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// Get reads the object bytes
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Head returns object metadata without reading the bytes
func (s *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return &ObjectInfo{Key: key, Size: fi.Size(), ModifiedAt: fi.ModTime()}, nil
}

// Presign returns a signed URL valid for ttl
func (s *LocalStore) Presign(key string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	sig := s.sign(key, expires)
	return fmt.Sprintf("%s/files/%s?exp=%d&sig=%s",
		s.baseURL, url.PathEscape(key), expires, sig), nil
}

// Verify checks a presigned URL's signature and expiry
func (s *LocalStore) Verify(key string, expires int64, signature string) error {
	if s.now().Unix() > expires {
		return ErrSignatureInvalid
	}
	expected := s.sign(key, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	return nil
}

func (s *LocalStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key + "\n" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// resolve validates the key and maps it to a path under the storage root
func (s *LocalStore) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return path, nil
}
