package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/tuilink/realtime-monitor/internal/monitor"
	"github.com/tuilink/realtime-monitor/internal/retry"
)

// Uploader writes one blob and returns its URI. The production implementation
// is GCS; tests inject a fake.
type Uploader interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// GCSUploader implements Uploader on a Google Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

// NewGCSUploader builds an uploader over an existing storage client.
func NewGCSUploader(client *storage.Client, bucket string) (*GCSUploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (u *GCSUploader) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	writer := u.client.Bucket(u.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, path), nil
}

// Store implements monitor.ArtifactStore: archive the account's profile
// directory and upload it under a fixed prefix.
type Store struct {
	uploader    Uploader
	profileRoot string
	prefix      string
	policy      retry.Policy
	logger      *zap.Logger
}

// NewStore builds an artifact Store.
func NewStore(uploader Uploader, profileRoot, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = "chrome-profiles"
	}
	return &Store{
		uploader:    uploader,
		profileRoot: profileRoot,
		prefix:      prefix,
		policy:      retry.Exponential(3, time.Second, 10*time.Second),
		logger:      logger,
	}
}

// PublishProfile archives and uploads the account's profile directory. A
// missing directory is logged and skipped; the worker may never have started.
func (s *Store) PublishProfile(ctx context.Context, account monitor.Account) error {
	profileDir := filepath.Join(s.profileRoot, account.Email)
	if _, err := os.Stat(profileDir); os.IsNotExist(err) {
		s.logger.Info("no profile directory to publish",
			zap.Int64("account_id", account.ID), zap.String("dir", profileDir))
		return nil
	}

	tmp, err := os.CreateTemp("", "profile-*.zip")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := Archive(profileDir, tmpPath); err != nil {
		return fmt.Errorf("archive profile for account %d: %w", account.ID, err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var uri string
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind archive: %w", err)
		}
		uri, err = s.uploader.PutObject(ctx, objectName(s.prefix, account.Email), "application/zip", f)
		return err
	})
	if err != nil {
		return fmt.Errorf("upload profile for account %d: %w", account.ID, err)
	}

	s.logger.Info("profile archive published",
		zap.Int64("account_id", account.ID), zap.String("uri", uri))
	return nil
}
