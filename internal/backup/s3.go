package backup

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/edvin/netbackup/internal/config"
)

// S3Uploader mirrors backup artifacts to an S3-compatible bucket. Built for
// self-hosted object stores (MinIO, Ceph RGW), hence the custom endpoint and
// path-style addressing.
type S3Uploader struct {
	logger zerolog.Logger
	client *s3.Client
	bucket string
}

// NewS3Uploader creates an uploader from the run's S3 settings.
func NewS3Uploader(logger zerolog.Logger, cfg config.S3Config) *S3Uploader {
	opts := s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Uploader{
		logger: logger.With().Str("component", "s3-uploader").Logger(),
		client: s3.New(opts),
		bucket: cfg.Bucket,
	}
}

// Upload puts the artifact under key in the configured bucket.
func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}
