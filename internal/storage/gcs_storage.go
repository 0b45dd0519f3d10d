package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const defaultGCSBaseURL = "https://storage.googleapis.com"

// GCSStorage stores assets in a Cloud Storage bucket. Objects are expected to
// be publicly readable through bucket IAM.
type GCSStorage struct {
	client  *gcs.Client
	bucket  string
	baseURL string
	now     func() time.Time
}

func NewGCSStorage(client *gcs.Client, bucket, baseURL string) *GCSStorage {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultGCSBaseURL + "/" + bucket
	}
	return &GCSStorage{
		client:  client,
		bucket:  strings.TrimSpace(bucket),
		baseURL: baseURL,
		now:     time.Now,
	}
}

func (s *GCSStorage) Put(ctx context.Context, ownerID, filename, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyObject
	}
	key := ProductImageKey(ownerID, filename, s.now())

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	w.Metadata = map[string]string{
		"owner":      ownerID,
		"uploadedAt": s.now().UTC().Format(time.RFC3339),
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// Delete removes the object. Deleting a missing object succeeds.
func (s *GCSStorage) Delete(ctx context.Context, locator string) error {
	key, ok := keyFromURL(locator, s.baseURL)
	if !ok {
		return ErrUnknownObject
	}
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
