// Package s3source reads replication sources from Amazon S3.
package s3source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/your-org/replicator/pkg/storage"
	"github.com/your-org/replicator/pkg/storage/chunk"
)

// Backend is the name reported in classified errors.
const Backend = "s3"

// API is the subset of the S3 client used by Source.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ API = (*s3.Client)(nil)

// Config holds the credentials and region of the source account.
type Config struct {
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint overrides the S3 endpoint, e.g. for LocalStack.
	Endpoint  string
	PathStyle bool
	ChunkSize int
}

// Source implements storage.Source on top of S3.
type Source struct {
	api  API
	pool *chunk.Pool
}

// New builds an S3 client from cfg. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewWithAPI(client, cfg.ChunkSize), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, chunkSize int) *Source {
	return &Source{api: api, pool: chunk.NewPool(chunkSize)}
}

func (s *Source) FetchMetadata(ctx context.Context, container, key string) (storage.ObjectMetadata, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return storage.ObjectMetadata{}, storage.Wrap(Backend, "head object", err, Classify)
	}

	var size uint64
	if out.ContentLength != nil && *out.ContentLength > 0 {
		size = uint64(*out.ContentLength)
	}

	return storage.ObjectMetadata{
		Size:         size,
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         trimETag(aws.ToString(out.ETag)),
	}, nil
}

func (s *Source) OpenStream(ctx context.Context, container, key string) (chunk.Stream, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storage.Wrap(Backend, "get object", err, Classify)
	}
	return &stream{Stream: chunk.FromReader(out.Body, s.pool)}, nil
}

func (s *Source) SourceURI(container, key string) string {
	return "s3://" + container + "/" + key
}

func (s *Source) Close() error {
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

// Classify maps S3 API errors onto storage kinds.
func Classify(err error) storage.Kind {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return storage.KindSourceNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
			return storage.KindAccessDenied
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return storage.KindTransient
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return storage.ClassifyHTTPStatus(respErr.HTTPStatusCode())
	}
	return storage.KindInternal
}

func trimETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}
