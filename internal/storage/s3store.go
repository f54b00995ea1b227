package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/baechuer/mailblast/internal/logger"
)

// S3Config configures the optional S3-compatible backend (AWS S3,
// MinIO, R2, ...). Grounded on media-service's S3Client, trimmed to
// the single put/get surface this pipeline needs.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for MinIO/R2-style custom endpoints
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Store is the S3-backed Store implementation.
type S3Store struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewS3Store builds an S3Store, resolving a custom endpoint when cfg.Endpoint
// is set (MinIO/R2 compatibility), matching media-service/internal/storage.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var resolver aws.EndpointResolverWithOptionsFunc
	if cfg.Endpoint != "" {
		resolver = func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: cfg.Region}, nil
		}
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if resolver != nil {
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		log:    logger.Named("s3_store"),
	}, nil
}

// Save uploads data under key "<mailingID>/<filename>" and returns
// that key as the opaque pointer.
func (s *S3Store) Save(ctx context.Context, mailingID, filename string, data io.Reader) (string, error) {
	key := fmt.Sprintf("%s/%s", mailingID, filename)

	buf, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("storage: read upload body: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf),
	})
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("s3 put object failed")
		return "", fmt.Errorf("storage: put object %s: %w", key, err)
	}

	return key, nil
}

// Open fetches the object addressed by pointer (the S3 key).
func (s *S3Store) Open(ctx context.Context, pointer string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(pointer),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get object %s: %w", pointer, err)
	}
	return out.Body, nil
}

// ObjectExists mirrors media-service's HeadObject-based existence
// check for a storage pointer. Any HeadObject error, not only a
// missing key, is reported as (false, nil).
func (s *S3Store) ObjectExists(ctx context.Context, pointer string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(pointer),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}
