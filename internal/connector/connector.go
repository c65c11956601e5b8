// Package connector turns configuration into AWS clients and the stores
// built on them.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/superset-studio/cloudchain/internal/chainerr"
	"github.com/superset-studio/cloudchain/internal/config"
	"github.com/superset-studio/cloudchain/internal/envelope"
	"github.com/superset-studio/cloudchain/internal/storage"
)

// LoadAWSConfig loads the shared AWS configuration for region. Static keys
// from [aws] take precedence over a named profile; with neither set the
// default credential chain applies.
func LoadAWSConfig(ctx context.Context, region string, settings config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))

	if settings.AccessKeyID != "" && settings.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKeyID, settings.SecretAccessKey, settings.SessionToken),
		))
	} else if settings.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(settings.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewDataStoreClient builds a DynamoDB client for the configured region and
// endpoint.
func NewDataStoreClient(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	if cfg == nil || cfg.Dynamo.Region == "" {
		return nil, chainerr.NewMissingFieldError(chainerr.CodeStoreRegion, "region_name")
	}
	if cfg.Dynamo.Endpoint == "" {
		return nil, chainerr.NewMissingFieldError(chainerr.CodeStoreEndpoint, "endpoint_url")
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg.Dynamo.Region, cfg.AWS)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.Dynamo.Endpoint
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	slog.Debug("created DynamoDB client", "region", cfg.Dynamo.Region, "endpoint", endpoint)
	return client, nil
}

// NewKeyServiceClient builds a KMS client in the data store's region. The
// endpoint is only overridden when [IAMKMS] names one.
func NewKeyServiceClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	if cfg == nil || cfg.Dynamo.Region == "" {
		return nil, chainerr.NewMissingFieldError(chainerr.CodeKeyRegion, "region_name")
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg.Dynamo.Region, cfg.AWS)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.KMS.Endpoint
	client := kms.NewFromConfig(awsCfg, func(o *kms.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	slog.Debug("created KMS client", "region", cfg.Dynamo.Region, "endpoint", endpoint)
	return client, nil
}

// NewS3Archive builds the S3 snapshot target described by [backup].
func NewS3Archive(ctx context.Context, cfg *config.Config) (*storage.S3Archive, error) {
	if err := cfg.ValidateBackup(); err != nil {
		return nil, err
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg.BackupRegion(), cfg.AWS)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.Backup.Endpoint
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	archive := storage.NewS3Archive(client, cfg.Backup.Bucket, cfg.Backup.Prefix, cfg.Dynamo.TableName)
	slog.Debug("created S3 archive", "bucket", archive.Bucket(), "endpoint", endpoint)
	return archive, nil
}

// OpenSnapshotStore connects to the SQL snapshot described by [snapshot].
func OpenSnapshotStore(ctx context.Context, cfg *config.Config) (*storage.SQLStore, error) {
	if err := cfg.ValidateSnapshot(); err != nil {
		return nil, err
	}
	return storage.NewSQLStore(ctx, cfg.Snapshot.Driver, cfg.Snapshot.DSN)
}

// Connector hands out the record store and key service for one
// configuration. Each is built on first use and then reused.
type Connector struct {
	cfg config.Config

	mu      sync.Mutex
	records storage.RecordStore
	keys    envelope.KeyService
}

type Option func(*Connector)

// WithRecordStore replaces the DynamoDB table with another record store,
// such as the local SQL snapshot.
func WithRecordStore(store storage.RecordStore) Option {
	return func(c *Connector) {
		c.records = store
	}
}

// WithKeyService replaces the KMS client.
func WithKeyService(keys envelope.KeyService) Option {
	return func(c *Connector) {
		c.keys = keys
	}
}

// New copies cfg, so later changes by the caller are not observed.
func New(cfg *config.Config, opts ...Option) *Connector {
	c := &Connector{}
	if cfg != nil {
		c.cfg = *cfg
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) RecordStore(ctx context.Context) (storage.RecordStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.records != nil {
		return c.records, nil
	}

	client, err := NewDataStoreClient(ctx, &c.cfg)
	if err != nil {
		return nil, err
	}
	store := storage.NewDynamoStore(client, c.cfg.Dynamo.TableName)
	slog.Debug("using DynamoDB table", "table", store.Table())
	c.records = store
	return c.records, nil
}

func (c *Connector) KeyService(ctx context.Context) (envelope.KeyService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keys != nil {
		return c.keys, nil
	}

	client, err := NewKeyServiceClient(ctx, &c.cfg)
	if err != nil {
		return nil, err
	}
	c.keys = client
	return c.keys, nil
}
