package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/replicator/pkg/config"
	"github.com/your-org/replicator/pkg/storage/gcsdest"
	"github.com/your-org/replicator/pkg/storage/objectstore"
	"github.com/your-org/replicator/pkg/storage/s3source"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Source = config.SourceConfig{
		Provider:  "s3",
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
	}
	cfg.Destination = config.DestinationConfig{
		Provider: "gcs",
		Bucket:   "gcs-bucket",
		Endpoint: "http://localhost:4443/storage/v1/",
	}
	cfg.Replication.ChunkSize = 1 << 20
	return cfg
}

func TestNewSource(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	src, err := newSource(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &s3source.Source{}, src)
	assert.Equal(t, "s3://my-bucket/file.csv", src.SourceURI("my-bucket", "file.csv"))

	cfg.Source.Provider = "minio"
	cfg.Source.Endpoint = "localhost:9000"
	src, err = newSource(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &objectstore.Store{}, src)

	cfg.Source.Provider = "ftp"
	src, err = newSource(ctx, cfg)
	assert.Error(t, err)
	assert.Nil(t, src)
}

func TestNewDestination(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	dst, err := newDestination(ctx, cfg)
	require.NoError(t, err)
	gcsDst := dst
	t.Cleanup(func() { _ = gcsDst.Close() })
	assert.IsType(t, &gcsdest.Destination{}, dst)
	assert.Equal(t, "gs://gcs-bucket/my-bucket/file.csv", dst.DestinationURI("my-bucket/file.csv"))

	cfg.Destination.Provider = "minio"
	cfg.Destination.Endpoint = "http://localhost:9000"
	cfg.Destination.AccessKey = "minio"
	cfg.Destination.SecretKey = "minio123"
	dst, err = newDestination(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &objectstore.Store{}, dst)
	assert.Equal(t, "s3://gcs-bucket/my-bucket/file.csv", dst.DestinationURI("my-bucket/file.csv"))

	cfg.Destination.Provider = "azure"
	dst, err = newDestination(ctx, cfg)
	assert.Error(t, err)
	assert.Nil(t, dst)
}
