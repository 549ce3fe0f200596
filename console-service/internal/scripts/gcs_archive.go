package scripts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// GCSArchive keeps scripts in a Cloud Storage bucket under scripts/<uid>/.
type GCSArchive struct {
	client     *storage.Client
	bucketName string
}

// NewGCSArchive creates a storage client for bucketName.
func NewGCSArchive(ctx context.Context, bucketName string) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSArchive{client: client, bucketName: bucketName}, nil
}

// Save uploads code and returns a signed download URL.
func (a *GCSArchive) Save(ctx context.Context, userID, title, code string) (Script, error) {
	if strings.TrimSpace(code) == "" {
		return Script{}, ErrEmptyScript
	}

	id := uuid.New().String()
	path := objectPath(userID, id)

	writer := a.client.Bucket(a.bucketName).Object(path).NewWriter(ctx)
	writer.ContentType = "application/javascript; charset=utf-8"
	writer.Metadata = map[string]string{"title": title, "userId": userID}
	if _, err := writer.Write([]byte(code)); err != nil {
		_ = writer.Close()
		return Script{}, fmt.Errorf("failed to write to storage: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Script{}, fmt.Errorf("failed to close writer: %w", err)
	}

	now := time.Now().UTC()
	expires := now.Add(URLExpiry)
	url, err := a.client.Bucket(a.bucketName).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: expires,
	})
	if err != nil {
		return Script{}, fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return Script{ID: id, Title: title, URL: url, ExpiresAt: expires, CreatedAt: now, ObjectPath: path}, nil
}

// Purge deletes every script stored for userID.
func (a *GCSArchive) Purge(ctx context.Context, userID string) error {
	bucket := a.client.Bucket(a.bucketName)
	it := bucket.Objects(ctx, &storage.Query{Prefix: userPrefix(userID)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list scripts: %w", err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", attrs.Name, err)
		}
	}
}

// Close closes the storage client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}
