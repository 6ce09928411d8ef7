package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/dmitrymomot/tenantquota/pkg/logger"
)

// ArchiveConfig configures the S3 export of audit events.
type ArchiveConfig struct {
	Bucket         string        `env:"S3_BUCKET"`
	Region         string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string        `env:"S3_ACCESS_KEY_ID"`
	SecretKey      string        `env:"S3_SECRET_KEY"`
	Endpoint       string        `env:"S3_ENDPOINT"`
	ForcePathStyle bool          `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
	Prefix         string        `env:"S3_AUDIT_PREFIX" envDefault:"audit"`
	Schedule       string        `env:"AUDIT_ARCHIVE_SCHEDULE" envDefault:"@daily"`
	Window         time.Duration `env:"AUDIT_ARCHIVE_WINDOW" envDefault:"24h"` // length of the exported window ending at each run
}

func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// ObjectPutter is the subset of *s3.Client used by the archiver.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client from static credentials or the default chain.
func NewS3Client(ctx context.Context, cfg ArchiveConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Join(ErrArchiveFailed, err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// S3Archiver exports audit windows as JSON lines for reporting tools.
type S3Archiver struct {
	storage  Storage
	client   ObjectPutter
	bucket   string
	prefix   string
	pageSize int
	log      *slog.Logger
}

func NewS3Archiver(storage Storage, client ObjectPutter, cfg ArchiveConfig, log *slog.Logger) *S3Archiver {
	if storage == nil || client == nil {
		panic("audit: archiver needs storage and an s3 client")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &S3Archiver{
		storage:  storage,
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		pageSize: 500,
		log:      log.With(logger.Component("audit_archive")),
	}
}

// Key returns the object key for the window [from, to).
func (a *S3Archiver) Key(from, to time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%s.jsonl",
		a.prefix,
		from.UTC().Format("2006/01/02"),
		from.UTC().Format("20060102T150405Z"),
		to.UTC().Format("20060102T150405Z"),
	)
}

// Export writes every event in [from, to) to one object and returns its key
// and the number of events written. An empty window writes nothing.
func (a *S3Archiver) Export(ctx context.Context, from, to time.Time) (string, int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	count := 0
	for offset := 0; ; offset += a.pageSize {
		events, total, err := a.storage.Query(ctx, Query{
			Filter: Filter{From: from, To: to},
			Offset: offset,
			Limit:  a.pageSize,
		})
		if err != nil {
			return "", 0, errors.Join(ErrArchiveFailed, err)
		}
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return "", 0, errors.Join(ErrArchiveFailed, err)
			}
			count++
		}
		if len(events) == 0 || offset+len(events) >= total {
			break
		}
	}

	if count == 0 {
		return "", 0, nil
	}

	key := a.Key(from, to)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", 0, classifyS3Error(err)
	}

	a.log.InfoContext(ctx, "audit window archived", slog.String("key", key), slog.Int("events", count))
	return key, count, nil
}

// Run exports the window that ended at now and started one period earlier.
func (a *S3Archiver) Run(ctx context.Context, now time.Time, period time.Duration) error {
	_, _, err := a.Export(ctx, now.Add(-period), now)
	return err
}

func classifyS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return errors.Join(ErrArchiveFailed, fmt.Errorf("s3 %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()))
	}
	return errors.Join(ErrArchiveFailed, err)
}
