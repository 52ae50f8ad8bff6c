package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// MaxCertificateSize is the largest certificate file accepted, in bytes.
const MaxCertificateSize = 5 << 20

var (
	ErrUnsupportedFileType = errors.New("unsupported certificate file type")
	ErrFileTooLarge        = errors.New("certificate file exceeds 5MB")
	ErrEmptyFile           = errors.New("certificate file is empty")
	ErrObjectNotFound      = errors.New("object not found")
)

var certificateContentTypes = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Upload describes a stored certificate object.
type Upload struct {
	Key         string
	Hash        string
	Size        int64
	ContentType string
}

// Storage keeps certificate files in an ObjectStorage backend.
type Storage struct {
	backend ObjectStorage
}

func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// CertificateKey returns the object key for a user's certificate upload.
func CertificateKey(userID, ext string, at time.Time) string {
	return fmt.Sprintf("%s/%s-%d.%s", userID, userID, at.UnixMilli(), ext)
}

// ContentTypeFor returns the content type for a certificate file name.
func ContentTypeFor(filename string) (string, string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	contentType, ok := certificateContentTypes[ext]
	if !ok {
		return "", "", ErrUnsupportedFileType
	}
	return ext, contentType, nil
}

// PutCertificate validates and uploads a certificate file, returning its
// key and SHA-256 digest.
func (s *Storage) PutCertificate(ctx context.Context, userID, filename string, r io.Reader, now time.Time) (Upload, error) {
	ext, contentType, err := ContentTypeFor(filename)
	if err != nil {
		return Upload{}, err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, MaxCertificateSize+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read certificate: %w", err)
	}
	if n == 0 {
		return Upload{}, ErrEmptyFile
	}
	if n > MaxCertificateSize {
		return Upload{}, ErrFileTooLarge
	}

	sum := sha256.Sum256(buf.Bytes())
	upload := Upload{
		Key:         CertificateKey(userID, ext, now),
		Hash:        hex.EncodeToString(sum[:]),
		Size:        n,
		ContentType: contentType,
	}

	if err := s.backend.Put(ctx, upload.Key, bytes.NewReader(buf.Bytes()), n, contentType); err != nil {
		return Upload{}, fmt.Errorf("upload certificate: %w", err)
	}
	return upload, nil
}

// Open opens a stored object for reading.
func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// DeleteAll removes every key, returning the errors joined.
func (s *Storage) DeleteAll(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
