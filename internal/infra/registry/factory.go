package registry

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vigilis/sentinel/internal/config"
	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

// Stores bundles the configured repository and public view writer.
type Stores struct {
	Repository client.Repository
	Publisher  client.PublicViewWriter

	closers []func() error
}

// Close releases backend resources (database pools).
func (s *Stores) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// New builds the registry repository for cfg.Registry.Backend and the
// public view writers for cfg.Public.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stores, error) {
	stores := &Stores{}
	rc := cfg.Registry

	var s3Client *s3.Client
	needS3 := rc.Backend == config.RegistryBackendS3 || cfg.Public.S3Key != ""
	if needS3 {
		var err error
		s3Client, err = NewS3Client(ctx, S3Config{
			Bucket:    rc.S3Bucket,
			Region:    rc.S3Region,
			Endpoint:  rc.S3Endpoint,
			AccessKey: rc.S3AccessKeyID,
			SecretKey: rc.S3SecretAccessKey,
			RoleARN:   rc.S3RoleARN,
		})
		if err != nil {
			return nil, err
		}
	}

	switch rc.Backend {
	case config.RegistryBackendJSONBin:
		repo, err := NewJSONBinStore(JSONBinConfig{
			BaseURL:   rc.JSONBinBaseURL,
			BinID:     rc.JSONBinBinID,
			MasterKey: rc.JSONBinMasterKey,
			Timeout:   rc.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		stores.Repository = repo

	case config.RegistryBackendFile:
		repo, err := NewFileStore(rc.FilePath, log)
		if err != nil {
			return nil, err
		}
		stores.Repository = repo

	case config.RegistryBackendS3:
		repo, err := NewS3Store(s3Client, rc.S3Bucket, rc.S3Key, log)
		if err != nil {
			return nil, err
		}
		stores.Repository = repo

	case config.RegistryBackendPostgres:
		db, err := OpenPostgres(ctx, rc.DatabaseURL)
		if err != nil {
			return nil, err
		}
		stores.closers = append(stores.closers, db.Close)
		repo, err := NewPostgresStore(db, rc.TableName, rc.DocumentID, log)
		if err != nil {
			_ = stores.Close()
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = stores.Close()
			return nil, err
		}
		stores.Repository = repo

	default:
		return nil, fmt.Errorf("unknown registry backend: %q", rc.Backend)
	}

	var writers MultiPublisher
	if cfg.Public.ViewPath != "" {
		writers = append(writers, NewFilePublisher(cfg.Public.ViewPath))
	}
	if cfg.Public.S3Key != "" {
		if rc.S3Bucket == "" {
			_ = stores.Close()
			return nil, fmt.Errorf("PUBLIC_VIEW_S3_KEY requires REGISTRY_S3_BUCKET")
		}
		writers = append(writers, NewS3Publisher(s3Client, rc.S3Bucket, cfg.Public.S3Key))
	}
	stores.Publisher = writers

	return stores, nil
}
