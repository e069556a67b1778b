// Package archive stores raw payloads of failed extractions so selectors
// can be repaired against the exact markup that broke them.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSArchive writes payloads to a Cloud Storage bucket under
// <source>/<unix>-<urlhash>.html.
type GCSArchive struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCS builds a bucket-backed archive.
func NewGCS(client *storage.Client, bucket string, logger *zap.Logger) (*GCSArchive, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSArchive{client: client, bucket: bucket, logger: logger.Named("archive")}, nil
}

// Archive uploads one payload and logs its gs:// URI.
func (a *GCSArchive) Archive(ctx context.Context, source, url string, body []byte) error {
	path := objectPath(source, url, time.Now().UTC())
	writer := a.client.Bucket(a.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "text/html; charset=utf-8"
	writer.Metadata = map[string]string{"origin_url": url}
	if _, err := io.Copy(writer, bytes.NewReader(body)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write payload %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close payload writer %s: %w", path, err)
	}
	a.logger.Info("payload archived",
		zap.String("source", source),
		zap.String("uri", fmt.Sprintf("gs://%s/%s", a.bucket, path)),
		zap.Int("bytes", len(body)))
	return nil
}

func objectPath(source, url string, now time.Time) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%s/%d-%s.html", source, now.Unix(), hex.EncodeToString(sum[:8]))
}

// Noop discards payloads; used when no bucket is configured.
type Noop struct{}

// Archive implements the orchestrator's Archiver by doing nothing.
func (Noop) Archive(context.Context, string, string, []byte) error { return nil }
