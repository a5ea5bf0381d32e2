package cloudocr

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
)

// GCSStore stores objects in Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a GCSStore from an existing client.
func NewGCSStore(client *storage.Client) *GCSStore {
	return &GCSStore{client: client}
}

// Put writes r to bucket/key as application/pdf in a single request.
func (s *GCSStore) Put(ctx context.Context, bucket, key string, r io.Reader) error {
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/pdf"
	w.ChunkSize = 0

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return eris.Wrapf(err, "gcs: write %s", key)
	}
	if err := w.Close(); err != nil {
		return eris.Wrapf(err, "gcs: finalize %s", key)
	}
	return nil
}

// Delete removes bucket/key. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return eris.Wrapf(err, "gcs: delete %s", key)
	}
	return nil
}
