// Package blob stores patient sputum photos in Google Cloud Storage and
// issues short-lived signed URLs for the vision model and doctor UI.
package blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

type Store struct {
	client    *storage.Client
	bucket    string
	signedTTL time.Duration
}

// NewStore connects to GCS using ambient credentials. An empty bucket name
// yields an unconfigured store; callers check IsConfigured and fall back to
// storing raw references.
func NewStore(ctx context.Context, bucket string, signedTTL time.Duration) (*Store, error) {
	if bucket == "" {
		return &Store{}, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if signedTTL <= 0 {
		signedTTL = 15 * time.Minute
	}
	return &Store{client: client, bucket: bucket, signedTTL: signedTTL}, nil
}

func (s *Store) IsConfigured() bool {
	return s != nil && s.client != nil && s.bucket != ""
}

// Upload writes an object and returns its name.
func (s *Store) Upload(ctx context.Context, name, contentType string, content []byte) (string, error) {
	if !s.IsConfigured() {
		return "", fmt.Errorf("blob store not configured")
	}
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", name, err)
	}
	return name, nil
}

// Download reads an object's content.
func (s *Store) Download(ctx context.Context, name string) ([]byte, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("blob store not configured")
	}
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// SignedURL returns a short-lived read URL for an object.
func (s *Store) SignedURL(name string) (string, error) {
	if !s.IsConfigured() {
		return "", fmt.Errorf("blob store not configured")
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(s.signedTTL),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", name, err)
	}
	return url, nil
}

// ObjectURL is the canonical (unauthenticated) object URL, kept as the stored
// reference alongside the object name.
func (s *Store) ObjectURL(name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, name)
}
