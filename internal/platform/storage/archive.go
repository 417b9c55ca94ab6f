package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"

	"github.com/lustreworks/fulfillment-api/internal/services"
)

// ObjectWriter stores a single object. The default implementation writes through a Cloud Storage
// client; tests substitute an in-memory writer.
type ObjectWriter func(ctx context.Context, bucket, object string, data []byte, metadata map[string]string) error

// ConfirmationArchive keeps JSON copies of order confirmations and cancellation evidence.
type ConfirmationArchive struct {
	bucket  string
	write   ObjectWriter
	marshal func(any, string, string) ([]byte, error)
}

var _ services.OrderArchive = (*ConfirmationArchive)(nil)

// NewConfirmationArchive constructs an archive writing to bucket through client.
func NewConfirmationArchive(client *gcs.Client, bucket string) (*ConfirmationArchive, error) {
	if client == nil {
		return nil, errors.New("storage archive: client is required")
	}
	return NewConfirmationArchiveWithWriter(bucket, GCSWriter(client))
}

// NewConfirmationArchiveWithWriter constructs an archive on top of an arbitrary writer.
func NewConfirmationArchiveWithWriter(bucket string, writer ObjectWriter) (*ConfirmationArchive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if writer == nil {
		return nil, errors.New("storage archive: writer is required")
	}
	return &ConfirmationArchive{bucket: bucket, write: writer, marshal: json.MarshalIndent}, nil
}

var errInvalidBucket = errors.New("storage: bucket name is required")

// ArchiveConfirmation writes the confirmation and returns its gs:// URI.
func (a *ConfirmationArchive) ArchiveConfirmation(ctx context.Context, confirmation services.OrderConfirmation) (string, error) {
	object, err := BuildObjectPath(PurposeConfirmation, PathParams{
		OrderID:     confirmation.OrderID,
		OrderNumber: confirmation.OrderNumber,
	})
	if err != nil {
		return "", err
	}
	return a.put(ctx, object, confirmation, map[string]string{
		"orderId":     confirmation.OrderID,
		"orderNumber": confirmation.OrderNumber,
		"kind":        string(PurposeConfirmation),
	})
}

// ArchiveCancellation writes cancellation evidence and returns its gs:// URI.
func (a *ConfirmationArchive) ArchiveCancellation(ctx context.Context, result services.CancellationResult) (string, error) {
	object, err := BuildObjectPath(PurposeCancellation, PathParams{
		OrderID: result.OrderID,
		At:      result.CancelledAt,
	})
	if err != nil {
		return "", err
	}
	return a.put(ctx, object, result, map[string]string{
		"orderId": result.OrderID,
		"kind":    string(PurposeCancellation),
	})
}

func (a *ConfirmationArchive) put(ctx context.Context, object string, payload any, metadata map[string]string) (string, error) {
	if a == nil || a.write == nil {
		return "", errors.New("storage archive: not initialised")
	}
	data, err := a.marshal(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("storage archive: marshal %s: %w", object, err)
	}
	if err := a.write(ctx, a.bucket, object, data, metadata); err != nil {
		return "", fmt.Errorf("storage archive: write %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}

// GCSWriter writes objects with a Cloud Storage client. Existing objects are overwritten.
func GCSWriter(client *gcs.Client) ObjectWriter {
	return func(ctx context.Context, bucket, object string, data []byte, metadata map[string]string) error {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/json"
		w.Metadata = metadata
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	}
}
