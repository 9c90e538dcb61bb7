package main

import (
	"context"
	"fmt"

	"github.com/your-org/replicator/pkg/config"
	"github.com/your-org/replicator/pkg/storage"
	"github.com/your-org/replicator/pkg/storage/gcsdest"
	"github.com/your-org/replicator/pkg/storage/objectstore"
	"github.com/your-org/replicator/pkg/storage/s3source"
)

func newSource(ctx context.Context, cfg *config.Config) (storage.Source, error) {
	switch cfg.Source.Provider {
	case "s3":
		src, err := s3source.New(ctx, s3source.Config{
			Region:    cfg.Source.Region,
			AccessKey: cfg.Source.AccessKey,
			SecretKey: cfg.Source.SecretKey,
			Endpoint:  cfg.Source.Endpoint,
			PathStyle: cfg.Source.PathStyle,
			ChunkSize: cfg.Replication.ChunkSize,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case "minio":
		store, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.Source.Endpoint,
			Region:    cfg.Source.Region,
			AccessKey: cfg.Source.AccessKey,
			SecretKey: cfg.Source.SecretKey,
			UseSSL:    cfg.Source.UseSSL,
			ChunkSize: cfg.Replication.ChunkSize,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported source provider: %q", cfg.Source.Provider)
	}
}

func newDestination(ctx context.Context, cfg *config.Config) (storage.Destination, error) {
	switch cfg.Destination.Provider {
	case "gcs":
		dst, err := gcsdest.New(ctx, gcsdest.Config{
			Bucket:          cfg.Destination.Bucket,
			CredentialsFile: cfg.Destination.CredentialsFile,
			Endpoint:        cfg.Destination.Endpoint,
			ChunkSize:       cfg.Replication.ChunkSize,
		})
		if err != nil {
			return nil, err
		}
		return dst, nil
	case "minio":
		store, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.Destination.Endpoint,
			Region:    cfg.Destination.Region,
			Bucket:    cfg.Destination.Bucket,
			AccessKey: cfg.Destination.AccessKey,
			SecretKey: cfg.Destination.SecretKey,
			UseSSL:    cfg.Destination.UseSSL,
			ChunkSize: cfg.Replication.ChunkSize,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported destination provider: %q", cfg.Destination.Provider)
	}
}
