package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ParseGCSUri splits "gs://bucket/object" into its bucket and object name.
func ParseGCSUri(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// uri needs a bucket and an object: %q", uri)
	}
	return bucket, object, nil
}

// ReadObject downloads a whole GCS object into memory.
func ReadObject(ctx context.Context, client *storage.Client, bucket, object string) ([]byte, error) {
	gcsReader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	data, err := io.ReadAll(gcsReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("Object already exists. Skipping.", "object", objectName)
			return nil // Not a failure in an idempotent workflow.
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// GCSUploader mirrors artifacts into a bucket, retrying with exponential backoff.
type GCSUploader struct {
	bucket         *storage.BucketHandle
	maxRetries     int
	attemptTimeout time.Duration
	backoff        time.Duration
}

// NewGCSUploader returns an uploader writing into bucketName.
func NewGCSUploader(client *storage.Client, bucketName string, maxRetries int) *GCSUploader {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &GCSUploader{
		bucket:         client.Bucket(bucketName),
		maxRetries:     maxRetries,
		attemptTimeout: 50 * time.Second,
		backoff:        time.Second,
	}
}

// Upload writes data to path, tagged as a PDF.
func (u *GCSUploader) Upload(ctx context.Context, path string, data []byte) error {
	return withRetry(ctx, u.maxRetries, u.backoff, path, func(ctx context.Context) error {
		writeCtx, cancel := context.WithTimeout(ctx, u.attemptTimeout)
		defer cancel()

		gcsWriter := u.bucket.Object(path).NewWriter(writeCtx)
		gcsWriter.ContentType = "application/pdf"
		if _, err := io.Copy(gcsWriter, bytes.NewReader(data)); err != nil {
			_ = gcsWriter.Close()
			return fmt.Errorf("io.Copy to GCS failed: %w", err)
		}
		if err := gcsWriter.Close(); err != nil {
			return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
		}
		return nil
	})
}

// withRetry runs fn up to maxRetries times, doubling backoff between attempts.
func withRetry(ctx context.Context, maxRetries int, backoff time.Duration, object string, fn func(context.Context) error) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == maxRetries-1 {
			break
		}

		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", object, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", object, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", object, lastErr)
}
