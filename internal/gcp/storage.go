package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/pokoscribe/scribeflow/internal/models"
)

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, content string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		return wrapWriteErr(objectName, err)
	}
	if err := writer.Close(); err != nil {
		return wrapWriteErr(objectName, err)
	}
	return nil
}

func wrapWriteErr(objectName string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 412 {
		slog.Info("Object already exists; skipping", "object", objectName)
		return nil
	}
	slog.Error("Failed to write GCS object", "object", objectName, "error", err)
	return fmt.Errorf("failed to write to GCS: %w", err)
}

// ArtifactMirror copies every appended artifact record to a bucket, one
// object per document and session.
type ArtifactMirror struct {
	bucket *storage.BucketHandle
	prefix string
}

func NewArtifactMirror(client *storage.Client, bucketName, prefix string) *ArtifactMirror {
	return &ArtifactMirror{bucket: client.Bucket(bucketName), prefix: prefix}
}

func (m *ArtifactMirror) Name() string { return "gcs" }

// Publish uploads the record. Re-publishing the same document in the same
// session is a no-op.
func (m *ArtifactMirror) Publish(ctx context.Context, pub models.Publication) error {
	return SaveToGCSAtomically(ctx, m.bucket, ArtifactObjectName(m.prefix, pub), pub.Record)
}

// ArtifactObjectName is "<prefix>/<class>/session-<id>/<document>.txt".
func ArtifactObjectName(prefix string, pub models.Publication) string {
	base := strings.TrimSuffix(pub.Outcome.Document.Name, path.Ext(pub.Outcome.Document.Name))
	return path.Join(prefix, pub.Class, "session-"+strconv.FormatInt(pub.SessionID, 10), base+".txt")
}

// DownloadObject copies a bucket object into dir under its base name and
// returns the local path. The file is written to a temporary name first so
// a queue scan never sees a partial download.
func DownloadObject(ctx context.Context, client *storage.Client, bucketName, objectName, dir string) (string, error) {
	reader, err := client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open gs://%s/%s: %w", bucketName, objectName, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	dst := filepath.Join(dir, path.Base(objectName))
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to download gs://%s/%s: %w", bucketName, objectName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize download: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to move download into place: %w", err)
	}
	return dst, nil
}
