// Package artifacts archives the work products of finished agent
// executions to object storage. When an execution reaches a terminal
// state its outputs (generated test files, patches, reports) are written
// to MinIO under a per-execution prefix, together with a summary report,
// so they outlive the execution context's TTL.
//
// Archiving is best-effort from the engine's point of view: a storage
// failure is surfaced to the caller for logging but never changes the
// outcome of the execution itself.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	miniogo "github.com/minio/minio-go/v7"

	"github.com/testforge/testforge-core/pkg/clients/minio"
	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/models"
)

// DefaultBucket is the bucket used when none is configured.
const DefaultBucket = "agent-artifacts"

// reportObject is the object name of the per-execution summary report.
const reportObject = "report.json"

// Archiver stores terminal execution artifacts.
type Archiver interface {
	// Archive writes the execution's summary report and work products
	// under the execution's prefix, replacing any previous archive.
	Archive(ctx context.Context, result *models.AgentResult, workProducts map[string]any) error

	// List returns the object keys archived for an execution.
	List(ctx context.Context, executionID string) ([]string, error)

	// ReportURL returns a presigned download URL for the execution's
	// summary report.
	ReportURL(ctx context.Context, executionID string, expires time.Duration) (*url.URL, error)
}

// MinioArchiver is the production [Archiver] backed by MinIO.
//
// A MinioArchiver is safe for concurrent use by multiple goroutines.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// Compile-time interface compliance check.
var _ Archiver = (*MinioArchiver)(nil)

// NewMinioArchiver creates a MinioArchiver. An empty bucket selects
// [DefaultBucket]; a nil logger falls back to [slog.Default].
func NewMinioArchiver(client *minio.Client, bucket string, logger *slog.Logger) *MinioArchiver {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MinioArchiver{client: client, bucket: bucket, logger: logger}
}

// EnsureBucket creates the archive bucket if it does not exist. It is
// idempotent and intended to run at service startup.
func (a *MinioArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.client.MakeBucket(ctx, a.bucket, miniogo.MakeBucketOptions{})
}

// Archive writes the summary report and all work products for a terminal
// execution. String-valued work products are stored verbatim; other
// values are stored as JSON.
//
// Error codes returned:
//   - [tferr.CodeValidation]: result is nil or has no execution ID
//   - [tferr.CodeInternalSerialization]: a payload cannot be marshaled
//   - [tferr.CodeTimeoutDatabase] / [tferr.CodeInternalDatabase]: storage failures
func (a *MinioArchiver) Archive(ctx context.Context, result *models.AgentResult, workProducts map[string]any) error {
	if result == nil || result.ExecutionID == "" {
		return tferr.New(tferr.CodeValidation,
			"artifacts: result with execution ID is required")
	}

	report, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return tferr.Wrap(err, tferr.CodeInternalSerialization,
			"artifacts: failed to marshal summary report")
	}
	if err := a.put(ctx, objectKey(result.ExecutionID, reportObject), report, "application/json"); err != nil {
		return err
	}

	for name, value := range workProducts {
		payload, contentType, err := encodeWorkProduct(value)
		if err != nil {
			return tferr.Wrapf(err, tferr.CodeInternalSerialization,
				"artifacts: failed to encode work product %q", name)
		}
		if err := a.put(ctx, objectKey(result.ExecutionID, name), payload, contentType); err != nil {
			return err
		}
	}

	a.logger.Info("archived execution artifacts",
		"execution_id", result.ExecutionID,
		"bucket", a.bucket,
		"work_products", len(workProducts),
	)
	return nil
}

// List returns the object keys archived under the execution's prefix.
func (a *MinioArchiver) List(ctx context.Context, executionID string) ([]string, error) {
	ch := a.client.ListObjects(ctx, a.bucket, miniogo.ListObjectsOptions{
		Prefix:    executionID + "/",
		Recursive: true,
	})

	keys := make([]string, 0)
	for obj := range ch {
		if obj.Err != nil {
			return nil, tferr.Wrap(obj.Err, tferr.CodeInternalDatabase,
				"artifacts: failed to list archived objects")
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// ReportURL returns a presigned download URL for the execution's summary
// report.
func (a *MinioArchiver) ReportURL(ctx context.Context, executionID string, expires time.Duration) (*url.URL, error) {
	return a.client.PresignedGetObject(ctx, a.bucket,
		objectKey(executionID, reportObject), expires, nil)
}

// put uploads one payload to the archive bucket.
func (a *MinioArchiver) put(ctx context.Context, key string, payload []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(payload), int64(len(payload)),
		miniogo.PutObjectOptions{ContentType: contentType})
	return err
}

// objectKey builds the per-execution object key.
func objectKey(executionID, name string) string {
	return fmt.Sprintf("%s/%s", executionID, name)
}

// encodeWorkProduct serializes one work-product value. Strings and byte
// slices pass through unchanged; everything else becomes JSON.
func encodeWorkProduct(value any) ([]byte, string, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), "text/plain", nil
	case []byte:
		return v, "application/octet-stream", nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return payload, "application/json", nil
	}
}

// NopArchiver discards all artifacts. It stands in when object storage
// is not configured.
type NopArchiver struct{}

// Compile-time interface compliance check.
var _ Archiver = NopArchiver{}

// Archive discards the artifacts.
func (NopArchiver) Archive(context.Context, *models.AgentResult, map[string]any) error {
	return nil
}

// List reports no archived objects.
func (NopArchiver) List(context.Context, string) ([]string, error) {
	return nil, nil
}

// ReportURL reports that no archive exists.
func (NopArchiver) ReportURL(context.Context, string, time.Duration) (*url.URL, error) {
	return nil, tferr.New(tferr.CodeNotFound, "artifacts: archiving is disabled")
}
