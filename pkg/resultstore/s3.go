package resultstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config configures an S3-backed result store.
//
// Authentication follows AWS SDK v2's default chain unless explicit
// credentials are provided. For S3-compatible stores (MinIO, Wasabi),
// set Endpoint and typically ForcePathStyle.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is prepended to every object key. Optional.
	Prefix string

	// Region is the AWS region. When Endpoint is empty and no region
	// resolves from the environment, us-east-1 is used.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the AWS profile name from shared config. Optional.
	Profile string

	// AccessKeyID and SecretAccessKey are explicit credentials that
	// take precedence over the default chain. Set both or neither.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path). Required
	// for most S3-compatible stores.
	ForcePathStyle bool
}

// Validate checks the configuration for required fields.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 result store: bucket is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("s3 result store: access key id and secret access key must be set together")
	}
	return nil
}

// S3Store stores artifacts as S3 objects and mints presigned GET URLs
// as retrieval handles.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3-backed result store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 result store: load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg S3Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Let the SDK resolve region from env/profile unless the config
	// sets one explicitly.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = "us-east-1"
	}

	return awsCfg, nil
}

// Put writes the artifact under <prefix>/<jobID>/artifact.json and
// returns the object key as the ref.
func (s *S3Store) Put(ctx context.Context, jobID string, content []byte) (string, error) {
	key := s.objectKey(jobID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", s.wrapError("PutObject", key, err)
	}

	return key, nil
}

// Handle mints a presigned GET URL for the object a ref points to.
func (s *S3Store) Handle(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", s.wrapError("PresignGetObject", ref, err)
	}

	return req.URL, nil
}

func (s *S3Store) objectKey(jobID string) string {
	if s.prefix == "" {
		return path.Join(jobID, "artifact.json")
	}
	return path.Join(s.prefix, jobID, "artifact.json")
}

// wrapError maps S3 errors onto the store's sentinel errors.
func (s *S3Store) wrapError(op, key string, err error) error {
	wrap := func(sentinel error) error {
		return fmt.Errorf("s3 result store: %s %s/%s: %w: %w", op, s.bucket, key, sentinel, err)
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return wrap(ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return wrap(ErrNotFound)
		case "SlowDown", "Throttling", "RequestLimitExceeded",
			"ServiceUnavailable", "InternalError":
			return wrap(ErrUnavailable)
		}
		return fmt.Errorf("s3 result store: %s %s/%s: %w", op, s.bucket, key, err)
	}

	// Fallback: treat transport-level failures as transient.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchKey"), strings.Contains(msg, "404"):
		return wrap(ErrNotFound)
	case strings.Contains(msg, "SlowDown"), strings.Contains(msg, "503"),
		strings.Contains(msg, "connection refused"), strings.Contains(msg, "timeout"):
		return wrap(ErrUnavailable)
	}

	return fmt.Errorf("s3 result store: %s %s/%s: %w", op, s.bucket, key, err)
}
