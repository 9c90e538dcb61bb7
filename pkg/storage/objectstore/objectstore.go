// Package objectstore talks to S3-compatible stores (MinIO, Ceph, R2, ...)
// through minio-go. A Store can serve as replication source, destination,
// or both.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/replicator/pkg/storage"
	"github.com/your-org/replicator/pkg/storage/chunk"
)

// Backend is the name reported in classified errors.
const Backend = "minio"

const (
	// minPartSize is the smallest multipart part size S3 accepts.
	minPartSize = 5 << 20
	maxParts    = 10000
	partAlign   = 1 << 20
)

// Config contains the information required to talk to an object store.
type Config struct {
	Endpoint string
	Region   string
	// Bucket is the destination bucket; sources name their own container.
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	ChunkSize int
}

// Store implements storage.Source and storage.Destination.
type Store struct {
	client *minio.Client
	bucket string
	pool   *chunk.Pool
}

var (
	_ storage.Source      = (*Store)(nil)
	_ storage.Destination = (*Store)(nil)
)

// New creates an object store client based on the given configuration.
func New(cfg Config) (*Store, error) {
	endpoint, secure := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &Store{client: cl, bucket: cfg.Bucket, pool: chunk.NewPool(cfg.ChunkSize)}, nil
}

// splitEndpoint accepts both "host:port" and "scheme://host:port".
func splitEndpoint(raw string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return strings.TrimPrefix(raw, "https://"), true
	case strings.HasPrefix(raw, "http://"):
		return strings.TrimPrefix(raw, "http://"), false
	default:
		return raw, useSSL
	}
}

func (m *Store) FetchMetadata(ctx context.Context, container, key string) (storage.ObjectMetadata, error) {
	info, err := m.client.StatObject(ctx, container, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectMetadata{}, storage.Wrap(Backend, "stat object", err, Classify)
	}
	return metadataFromInfo(info), nil
}

func metadataFromInfo(info minio.ObjectInfo) storage.ObjectMetadata {
	var size uint64
	if info.Size > 0 {
		size = uint64(info.Size)
	}
	return storage.ObjectMetadata{
		Size:         size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		ETag:         info.ETag,
	}
}

func (m *Store) OpenStream(ctx context.Context, container, key string) (chunk.Stream, error) {
	obj, err := m.client.GetObject(ctx, container, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storage.Wrap(Backend, "get object", err, Classify)
	}
	// GetObject is lazy; Stat surfaces a missing key before any chunk is pulled.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, storage.Wrap(Backend, "get object", err, Classify)
	}
	return &stream{Stream: chunk.FromReader(obj, m.pool)}, nil
}

func (m *Store) SourceURI(container, key string) string {
	return "s3://" + container + "/" + key
}

func (m *Store) DestinationURI(path string) string {
	return "s3://" + m.bucket + "/" + path
}

func (m *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || (resp.StatusCode == 404 && resp.Code != "NoSuchBucket") {
		return false, nil
	}
	return false, storage.Wrap(Backend, "stat object", err, classifyDestination)
}

// WriteStream uploads stream as a single or multipart upload sized exactly
// opts.ExpectedSize. minio-go aborts the multipart upload on error. A
// stream of the wrong length fails the upload with *chunk.SizeMismatchError;
// if the store committed the object anyway it is removed.
func (m *Store) WriteStream(ctx context.Context, path string, stream chunk.Stream, opts storage.WriteOptions) (uint64, error) {
	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
		PartSize:     partSize(m.pool.Size(), opts.ExpectedSize),
	}

	r := chunk.NewReader(ctx, chunk.Expect(stream, opts.ExpectedSize))
	defer r.Close()

	info, err := m.client.PutObject(ctx, m.bucket, path, r, int64(opts.ExpectedSize), putOpts)
	if err != nil {
		return 0, storage.Wrap(Backend, "put object", err, classifyDestination)
	}

	written := uint64(0)
	if info.Size > 0 {
		written = uint64(info.Size)
	}

	surplus, err := trailingBytes(ctx, r)
	if err != nil || surplus > 0 || written != opts.ExpectedSize {
		_ = m.client.RemoveObject(ctx, m.bucket, path, minio.RemoveObjectOptions{})
		if err != nil {
			return written, storage.Wrap(Backend, "put object", err, classifyDestination)
		}
		return written, storage.Wrap(Backend, "put object",
			&chunk.SizeMismatchError{Expected: opts.ExpectedSize, Got: written + surplus}, classifyDestination)
	}
	return written, nil
}

// partSize returns the multipart part size for an object of size bytes: the
// chunk size, grown to a whole number of MiB when size would otherwise need
// more than maxParts parts. Zero leaves the choice to minio-go.
func partSize(chunkSize int, size uint64) uint64 {
	if chunkSize < minPartSize {
		return 0
	}
	part := uint64(chunkSize)
	if need := (size + maxParts - 1) / maxParts; need > part {
		part = (need + partAlign - 1) / partAlign * partAlign
	}
	return part
}

// trailingBytes reports how much data is left in r after the upload consumed
// the announced size.
func trailingBytes(ctx context.Context, r io.Reader) (uint64, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return uint64(n), err
	}
	return uint64(n), ctx.Err()
}

// Bucket returns the destination bucket name.
func (m *Store) Bucket() string {
	return m.bucket
}

func (m *Store) Close() error {
	return nil
}

type stream struct {
	chunk.Stream
}

func (s *stream) Next(ctx context.Context) (chunk.Chunk, error) {
	c, err := s.Stream.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return c, storage.Wrap(Backend, "read object", err, Classify)
	}
	return c, err
}

// Classify maps minio-go error responses onto storage kinds.
func Classify(err error) storage.Kind {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return storage.KindSourceNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return storage.KindAccessDenied
	case "QuotaExceeded", "XMinioAdminBucketQuotaExceeded", "XMinioStorageFull":
		return storage.KindQuotaExceeded
	case "SlowDown", "SlowDownWrite", "SlowDownRead", "RequestTimeout", "InternalError", "ServiceUnavailable", "XMinioServerNotInitialized":
		return storage.KindTransient
	}
	if resp.StatusCode != 0 {
		return storage.ClassifyHTTPStatus(resp.StatusCode)
	}
	return storage.KindInternal
}

// classifyDestination is Classify for the write side, where a missing
// bucket is a deployment problem rather than a missing source object.
func classifyDestination(err error) storage.Kind {
	if k := Classify(err); k != storage.KindSourceNotFound {
		return k
	}
	return storage.KindInternal
}
