// Package archive writes full-verification reports to S3-compatible
// object storage for long-term compliance retention. The object store is
// a separate trust domain from the database: a report written there
// survives even if the database itself is later tampered with.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clinichain/clinichain/internal/runs"
)

// s3API is the subset of the S3 client the archiver uses; narrowed for
// test doubles.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds configuration for the report archiver.
type Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Prefix          string // object key prefix, default "verification-runs"
}

// Archiver serializes verification runs to JSON and writes them to
// object storage.
type Archiver struct {
	client s3API
	bucket string
	prefix string
	logger *slog.Logger

	timeNow func() time.Time // for testability
}

// New creates an Archiver from config. Works against AWS S3 and
// S3-compatible stores (path-style addressing, static credentials).
func New(cfg Config, logger *slog.Logger) (*Archiver, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "verification-runs"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Archiver{
		client:  client,
		bucket:  cfg.BucketName,
		prefix:  cfg.Prefix,
		logger:  logger,
		timeNow: time.Now,
	}, nil
}

// ArchiveRun writes a run report and returns the object key. Keys are
// date-partitioned so retention policies can expire whole prefixes.
func (a *Archiver) ArchiveRun(ctx context.Context, run *runs.Run) (string, error) {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize run %s: %w", run.ID, err)
	}

	key := a.objectKey(run)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive run %s: %w", run.ID, err)
	}

	a.logger.Info("verification report archived",
		slog.String("run_id", run.ID),
		slog.String("key", key))
	return key, nil
}

func (a *Archiver) objectKey(run *runs.Run) string {
	t := run.RunAt
	if t.IsZero() {
		t = a.timeNow().UTC()
	}
	return fmt.Sprintf("%s/%s/run-%s.json", a.prefix, t.Format("2006/01/02"), run.ID)
}
