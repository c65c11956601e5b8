package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/superset-studio/cloudchain/internal/chainerr"
	"github.com/superset-studio/cloudchain/internal/models"
)

// S3API is the subset of the S3 client used by S3Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores each snapshot of sealed records as one gzipped JSON
// object. Secrets in the archive remain KMS-encrypted.
type S3Archive struct {
	client S3API
	bucket string
	prefix string
	table  string
	now    func() time.Time
}

type S3ArchiveContent struct {
	SnapshotID string           `json:"snapshot_id"`
	Table      string           `json:"table"`
	CreatedAt  string           `json:"created_at"`
	Records    []*models.Record `json:"records"`
}

func NewS3Archive(client S3API, bucket, prefix, table string) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		table:  table,
		now:    time.Now,
	}
}

func (a *S3Archive) Bucket() string {
	return a.bucket
}

// GenerateKey builds "<prefix>/<table>/<date>/<id>.json.gz".
func (a *S3Archive) GenerateKey(id uuid.UUID, timestamp time.Time) string {
	date := timestamp.UTC().Format("2006-01-02")
	return path.Join(a.prefix, a.table, date, id.String()+".json.gz")
}

// Archive uploads records and returns the object key it wrote.
func (a *S3Archive) Archive(ctx context.Context, records []*models.Record) (string, error) {
	id := uuid.New()
	ts := a.now()
	key := a.GenerateKey(id, ts)

	if records == nil {
		records = []*models.Record{}
	}
	content := S3ArchiveContent{
		SnapshotID: id.String(),
		Table:      a.table,
		CreatedAt:  ts.UTC().Format(time.RFC3339),
		Records:    records,
	}

	jsonData, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal archive content: %w", err)
	}

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	if _, err := gzWriter.Write(jsonData); err != nil {
		return "", fmt.Errorf("gzip archive content: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return "", fmt.Errorf("close gzip writer: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", chainerr.NewServiceError(fmt.Sprintf("s3 put object %s/%s", a.bucket, key), err)
	}

	slog.Debug("archived snapshot to S3", "bucket", a.bucket, "key", key, "records", len(records))
	return key, nil
}

func (a *S3Archive) WriteSnapshot(ctx context.Context, records []*models.Record) error {
	_, err := a.Archive(ctx, records)
	return err
}
