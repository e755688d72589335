package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

// S3Config contains configuration for S3-backed storage.
type S3Config struct {
	Bucket    string
	Key       string // Registry object key
	Region    string
	Endpoint  string // Custom endpoint for S3-compatible services
	AccessKey string
	SecretKey string
	RoleARN   string // Assumed via STS when set
}

// objectAPI is the subset of the S3 client used here.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the registry as one JSON object in a bucket.
type S3Store struct {
	api    objectAPI
	bucket string
	key    string
	logger *logger.Logger
}

// NewS3Client builds an S3 client from static keys, an STS role, or the
// default credential chain, in that order of preference.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	switch {
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	case cfg.RoleARN != "":
		baseCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		creds := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(baseCfg), cfg.RoleARN)
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(creds)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// NewS3Store creates an S3-backed repository.
func NewS3Store(api objectAPI, bucket, key string, log *logger.Logger) (*S3Store, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 bucket and key are required")
	}
	return &S3Store{
		api:    api,
		bucket: bucket,
		key:    key,
		logger: log.With("component", "registry", "backend", "s3"),
	}, nil
}

// Load downloads and decodes the registry object.
func (s *S3Store) Load(ctx context.Context) (*client.Registry, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get s3://%s/%s: %v", client.ErrRegistryUnavailable, s.bucket, s.key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxRegistryBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read object: %v", client.ErrRegistryUnavailable, err)
	}

	reg, err := decodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrRegistryUnavailable, err)
	}
	return reg, nil
}

// Replace uploads reg over the registry object.
func (s *S3Store) Replace(ctx context.Context, reg *client.Registry) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", client.ErrRegistryPersist, err)
	}
	if err := putJSON(ctx, s.api, s.bucket, s.key, data); err != nil {
		return fmt.Errorf("%w: %v", client.ErrRegistryPersist, err)
	}
	s.logger.Debug("registry uploaded", "bucket", s.bucket, "key", s.key, "clients", len(reg.Clients))
	return nil
}

func putJSON(ctx context.Context, api objectAPI, bucket, key string, data []byte) error {
	_, err := api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
