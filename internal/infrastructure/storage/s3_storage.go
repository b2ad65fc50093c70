// Package storage archives batch results in S3-compatible object storage.
package storage

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/bcsync/internal/domain/customersync"
	infraconfig "github.com/erp/bcsync/internal/infrastructure/config"
)

const (
	archivePrefix      = "customer-sync"
	archiveContentType = "application/json"
)

var _ customersync.ResultArchive = (*S3ResultArchive)(nil)

// S3ResultArchive writes each run's item results to one JSON object. Any S3
// compatible endpoint works when path style addressing is on.
type S3ResultArchive struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

type S3ResultArchiveOption func(*S3ResultArchive)

func WithLogger(logger *zap.Logger) S3ResultArchiveOption {
	return func(s *S3ResultArchive) { s.logger = logger }
}

func NewS3ResultArchive(cfg *infraconfig.StorageConfig, opts ...S3ResultArchiveOption) (*S3ResultArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage: configuration is required")
	}
	for _, req := range []struct{ value, msg string }{
		{cfg.Bucket, "storage: bucket is required"},
		{cfg.AccessKey, "storage: access key is required"},
		{cfg.SecretKey, "storage: secret key is required"},
	} {
		if req.value == "" {
			return nil, errors.New(req.msg)
		}
	}

	endpoint, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := cmp.Or(cfg.Region, "us-east-1")

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	archive := &S3ResultArchive{
		client: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		}),
		bucket: cfg.Bucket,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(archive)
	}
	return archive, nil
}

// normalizeEndpoint adds a scheme to bare host:port endpoints.
func normalizeEndpoint(endpoint string, useSSL bool) (string, error) {
	endpoint = cmp.Or(endpoint, "http://localhost:9000")
	if !strings.Contains(endpoint, "://") {
		scheme := "http://"
		if useSSL {
			scheme = "https://"
		}
		endpoint = scheme + endpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("storage: invalid endpoint %q: %w", endpoint, err)
	}
	return endpoint, nil
}

// EnsureBucket creates the archive bucket when HeadBucket reports it missing.
func (s *S3ResultArchive) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("storage: head bucket %s: %w", s.bucket, err)
	}

	s.logger.Info("Creating result archive bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("storage: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Store uploads payload for runID and returns the object key.
func (s *S3ResultArchive) Store(ctx context.Context, runID uuid.UUID, at time.Time, payload []byte) (string, error) {
	key := ArchiveKey(runID, at)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String(archiveContentType),
		Metadata:      map[string]string{"run-id": runID.String()},
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload results for run %s: %w", runID, err)
	}

	s.logger.Debug("Archived run results", zap.String("key", key), zap.Int("bytes", len(payload)))
	return key, nil
}

func (s *S3ResultArchive) Bucket() string {
	return s.bucket
}

// ArchiveKey is customer-sync/yyyy/mm/dd/<run id>.json, dated in UTC.
func ArchiveKey(runID uuid.UUID, at time.Time) string {
	return path.Join(archivePrefix, at.UTC().Format("2006/01/02"), runID.String()+".json")
}
