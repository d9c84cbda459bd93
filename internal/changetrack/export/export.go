// Package export writes change records as newline-delimited JSON, one line
// per record with its decoded payloads and rendered diff, and can archive the
// result to an S3-compatible bucket.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"datachange/internal/changetrack/models"
	"datachange/internal/changetrack/render"
)

// ContentType is the media type of an export.
const ContentType = "application/x-ndjson"

// Line is one exported record.
type Line struct {
	Record *models.Record     `json:"record"`
	Title  string             `json:"title"`
	Before models.FieldMap    `json:"before"`
	After  models.FieldMap    `json:"after"`
	Diff   []render.FieldDiff `json:"diff"`
}

// Export writes records to w in the given order.
func Export(ctx context.Context, w io.Writer, records []*models.Record) error {
	enc := json.NewEncoder(w)
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := toLine(record)
		if err != nil {
			return err
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write change record %s: %w", record.ID, err)
		}
	}
	return nil
}

func toLine(record *models.Record) (*Line, error) {
	before, err := render.Fields(record.Before)
	if err != nil {
		return nil, fmt.Errorf("decode before of %s: %w", record.ID, err)
	}
	after, err := render.Fields(record.After)
	if err != nil {
		return nil, fmt.Errorf("decode after of %s: %w", record.ID, err)
	}
	diff, err := render.Render(record)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", record.ID, err)
	}
	return &Line{
		Record: record,
		Title:  record.Title(),
		Before: before,
		After:  after,
		Diff:   diff,
	}, nil
}

// ObjectPutter is the subset of *s3.Client used by the uploader.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes the archive bucket. Endpoint is set for S3-compatible
// services such as MinIO or R2, which also need path-style addressing.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// NewS3Client builds an S3 client from static credentials, or the SDK's
// anonymous defaults when none are given.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{Region: cfg.Region}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// Uploader archives exports to a bucket.
type Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

type UploaderOption func(*Uploader)

func WithLogger(logger *slog.Logger) UploaderOption {
	return func(u *Uploader) {
		u.logger = logger
	}
}

// WithPrefix places every object under prefix.
func WithPrefix(prefix string) UploaderOption {
	return func(u *Uploader) {
		u.prefix = prefix
	}
}

func NewUploader(client ObjectPutter, bucket string, opts ...UploaderOption) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	u := &Uploader{client: client, bucket: bucket}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Upload exports records and stores them under key. It returns the full
// object key.
func (u *Uploader) Upload(ctx context.Context, key string, records []*models.Record) (string, error) {
	var buf bytes.Buffer
	if err := Export(ctx, &buf, records); err != nil {
		return "", err
	}

	objectKey := key
	if u.prefix != "" {
		objectKey = path.Join(u.prefix, key)
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", u.bucket, objectKey, err)
	}

	if u.logger != nil {
		u.logger.InfoContext(ctx, "change records exported",
			"bucket", u.bucket,
			"key", objectKey,
			"records", len(records),
			"bytes", buf.Len(),
		)
	}
	return objectKey, nil
}

// ObjectKey names an export by subject and time, e.g.
// "Article-42/20240601T120000Z.ndjson".
func ObjectKey(subject string, at time.Time) string {
	return subject + "/" + at.UTC().Format("20060102T150405Z") + ".ndjson"
}
