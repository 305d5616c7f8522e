// Package storage keeps conversation audio in a blob bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	storage_go "github.com/supabase-community/storage-go"
)

const ContentTypeMP3 = "audio/mpeg"

// ErrObjectNotFound is returned when a download finds nothing at the path.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore stores audio objects by path inside one bucket.
type BlobStore interface {
	// Upload writes data at path, replacing any existing object.
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	// SignedURL returns a time-limited download URL for path.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// NewStorageClient creates a Supabase Storage client authenticated with the
// service key.
func NewStorageClient(supabaseURL, serviceKey string) *storage_go.Client {
	return storage_go.NewClient(strings.TrimRight(supabaseURL, "/")+"/storage/v1", serviceKey, nil)
}

// SupabaseStore is a BlobStore backed by a Supabase Storage bucket.
type SupabaseStore struct {
	client *storage_go.Client
	bucket string
	log    logrus.FieldLogger

	// storage-go sets upload options as headers on the shared client.
	uploadMu sync.Mutex
}

func NewSupabaseStore(client *storage_go.Client, bucket string, log logrus.FieldLogger) *SupabaseStore {
	return &SupabaseStore{client: client, bucket: bucket, log: log}
}

func (s *SupabaseStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	upsert := true
	s.uploadMu.Lock()
	_, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	s.uploadMu.Unlock()
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", s.bucket, path, err)
	}

	s.log.WithFields(logrus.Fields{"bucket": s.bucket, "path": path, "bytes": len(data)}).Info("Uploaded object")
	return nil
}

func (s *SupabaseStore) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.client.DownloadFile(s.bucket, path)
	if err != nil {
		return nil, fmt.Errorf("downloading %s/%s: %w", s.bucket, path, err)
	}
	if err := errorBody(data); err != nil {
		return nil, fmt.Errorf("downloading %s/%s: %w", s.bucket, path, err)
	}
	return data, nil
}

func (s *SupabaseStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resp, err := s.client.CreateSignedUrl(s.bucket, path, int(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("signing %s/%s: %w", s.bucket, path, err)
	}
	if resp.SignedURL == "" {
		return "", fmt.Errorf("signing %s/%s: %w", s.bucket, path, ErrObjectNotFound)
	}
	return resp.SignedURL, nil
}

// errorBody detects the JSON error document Storage returns in place of the
// object body.
func errorBody(data []byte) error {
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var e struct {
		StatusCode string `json:"statusCode"`
		Error      string `json:"error"`
		Message    string `json:"message"`
	}
	if json.Unmarshal(data, &e) != nil || e.Error == "" {
		return nil
	}
	if e.StatusCode == "404" || strings.EqualFold(e.Error, "not_found") {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, e.Message)
	}
	return fmt.Errorf("storage error %s: %s", e.StatusCode, e.Message)
}

// DirStore is a BlobStore on the local filesystem, used when the processor
// runs without Supabase.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root %s: %w", root, err)
	}
	return &DirStore{root: root}, nil
}

func (d *DirStore) Upload(ctx context.Context, path string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("uploading %s: %w", path, err)
	}
	return nil
}

func (d *DirStore) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("downloading %s: %w", path, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", path, err)
	}
	return data, nil
}

// SignedURL returns a file:// URL; local objects need no signature.
func (d *DirStore) SignedURL(ctx context.Context, path string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := d.resolve(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("signing %s: %w", path, ErrObjectNotFound)
	}
	return "file://" + filepath.ToSlash(full), nil
}

func (d *DirStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	return filepath.Join(d.root, clean), nil
}
