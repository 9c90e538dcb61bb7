// Package gcsdest writes replicas to a Google Cloud Storage bucket.
package gcsdest

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/your-org/replicator/pkg/storage"
	"github.com/your-org/replicator/pkg/storage/chunk"
)

// Backend is the name reported in classified errors.
const Backend = "gcs"

// Config selects the destination bucket and its credentials.
type Config struct {
	Bucket          string
	CredentialsFile string
	// Endpoint overrides the JSON API endpoint, e.g. for fake-gcs-server.
	Endpoint  string
	ChunkSize int
}

// Destination implements storage.Destination on top of GCS.
type Destination struct {
	client    *gcs.Client
	bucket    *gcs.BucketHandle
	name      string
	chunkSize int
}

// New opens a GCS client for cfg.Bucket.
func New(ctx context.Context, cfg Config) (*Destination, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs destination: bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}

	return &Destination{
		client:    client,
		bucket:    client.Bucket(cfg.Bucket),
		name:      cfg.Bucket,
		chunkSize: chunkSize,
	}, nil
}

func (d *Destination) Exists(ctx context.Context, path string) (bool, error) {
	_, err := d.bucket.Object(path).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap(Backend, "stat object", err, Classify)
	}
	return true, nil
}

// WriteStream uploads stream with a resumable upload that only succeeds if
// no object exists at path yet. The upload buffers at most one chunk; on
// any failure it is cancelled before finalisation so no partial object
// becomes visible.
func (d *Destination) WriteStream(ctx context.Context, path string, stream chunk.Stream, opts storage.WriteOptions) (uint64, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := d.bucket.Object(path).If(gcs.Conditions{DoesNotExist: true}).NewWriter(wctx)
	w.ChunkSize = d.chunkSize
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata

	n, err := writeAll(ctx, w, stream, opts.ExpectedSize)
	if err != nil {
		cancel()
		_ = w.Close()
		return n, storage.Wrap(Backend, "write object", err, Classify)
	}

	if err := w.Close(); err != nil {
		return n, storage.Wrap(Backend, "finalize object", err, Classify)
	}
	return n, nil
}

func (d *Destination) DestinationURI(path string) string {
	return "gs://" + d.name + "/" + path
}

// Bucket returns the destination bucket name.
func (d *Destination) Bucket() string {
	return d.name
}

func (d *Destination) Close() error {
	return d.client.Close()
}

func writeAll(ctx context.Context, w io.Writer, stream chunk.Stream, expected uint64) (uint64, error) {
	n, err := chunk.Drain(ctx, stream, func(b []byte) error {
		_, err := w.Write(b)
		return err
	})
	if err != nil {
		return n, err
	}
	if n != expected {
		return n, &chunk.SizeMismatchError{Expected: expected, Got: n}
	}
	return n, nil
}

// Classify maps GCS API errors onto storage kinds.
func Classify(err error) storage.Kind {
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return storage.KindInternal
	}

	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return storage.KindInternal
	}

	for _, item := range gErr.Errors {
		switch item.Reason {
		case "quotaExceeded", "storageQuotaExceeded", "insufficientStorage":
			return storage.KindQuotaExceeded
		}
	}

	switch gErr.Code {
	case 412:
		return storage.KindAlreadyExists
	case 404:
		// Missing destination bucket is a deployment problem, not a
		// missing source.
		return storage.KindInternal
	case 507:
		return storage.KindQuotaExceeded
	}
	return storage.ClassifyHTTPStatus(gErr.Code)
}
