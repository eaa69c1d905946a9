package gcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/pokoscribe/scribeflow/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// StatusTracker mirrors queue transitions into a Firestore collection. Each
// source file has one document keyed by its content hash.
type StatusTracker struct {
	client     *firestore.Client
	collection string
}

func NewStatusTracker(client *firestore.Client, collection string) *StatusTracker {
	return &StatusTracker{client: client, collection: collection}
}

// Track merges rec into the file's status document.
func (t *StatusTracker) Track(ctx context.Context, rec models.StatusRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := t.client.Collection(t.collection).Doc(StatusDocID(rec)).Set(ctx, statusFields(rec), firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", rec.FileName, err)
	}
	return nil
}

// StatusDocID is the file hash, or a hash of class and name when the
// content could not be read.
func StatusDocID(rec models.StatusRecord) string {
	if rec.FileHash != "" {
		return rec.FileHash
	}
	sum := sha256.Sum256([]byte(rec.Class + "/" + rec.FileName))
	return hex.EncodeToString(sum[:])
}

// statusFields keeps only set fields so a merge never clears earlier values.
func statusFields(rec models.StatusRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"status":    rec.Status,
		"updatedAt": rec.UpdatedAt,
	}
	set := func(key string, v interface{}, ok bool) {
		if ok {
			fields[key] = v
		}
	}
	set("fileHash", rec.FileHash, rec.FileHash != "")
	set("fileName", rec.FileName, rec.FileName != "")
	set("class", rec.Class, rec.Class != "")
	set("errorDetails", rec.ErrorDetails, rec.ErrorDetails != "")
	set("sessionId", rec.SessionID, rec.SessionID != 0)
	set("chunks", rec.Chunks, rec.Chunks != 0)
	set("skipped", rec.Skipped, rec.Skipped != 0)
	set("createdAt", rec.CreatedAt, !rec.CreatedAt.IsZero())
	return fields
}
