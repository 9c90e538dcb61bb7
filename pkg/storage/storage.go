// Package storage defines the contract shared by every replication backend:
// object metadata, the source and destination accessors, and the error
// taxonomy that accessors translate their SDK errors into.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/your-org/replicator/pkg/storage/chunk"
)

// ObjectMetadata describes a source object. It is read-only.
type ObjectMetadata struct {
	Size         uint64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// Source reads objects from the replication origin.
type Source interface {
	// FetchMetadata returns the object's metadata without reading its body.
	FetchMetadata(ctx context.Context, container, key string) (ObjectMetadata, error)
	// OpenStream returns a lazily pulled chunk stream over the object's body.
	OpenStream(ctx context.Context, container, key string) (chunk.Stream, error)
	// SourceURI renders the object's location, e.g. s3://bucket/key.
	SourceURI(container, key string) string
	Close() error
}

// WriteOptions describes an object about to be written to a destination.
type WriteOptions struct {
	ExpectedSize uint64
	ContentType  string
	Metadata     map[string]string
}

// Destination accepts replicated objects.
type Destination interface {
	Exists(ctx context.Context, path string) (bool, error)
	// WriteStream consumes stream in order and commits the object only if
	// exactly opts.ExpectedSize bytes were written.
	WriteStream(ctx context.Context, path string, stream chunk.Stream, opts WriteOptions) (uint64, error)
	// DestinationURI renders the location of path, e.g. gs://bucket/path.
	DestinationURI(path string) string
	Close() error
}

// Kind classifies a backend failure.
type Kind string

const (
	KindSourceNotFound  Kind = "SourceNotFound"
	KindAccessDenied    Kind = "AccessDenied"
	KindTransient       Kind = "Transient"
	KindQuotaExceeded   Kind = "QuotaExceeded"
	KindSizeMismatch    Kind = "SizeMismatch"
	KindRecorderFailure Kind = "RecorderFailure"
	KindInvalidRequest  Kind = "InvalidRequest"
	// KindAlreadyExists marks a conditional create that lost to a
	// concurrent writer of the same path.
	KindAlreadyExists Kind = "AlreadyExists"
	KindInternal      Kind = "Internal"
)

// Retryable reports whether a failure of this kind may succeed on retry.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// Error is a classified backend failure.
type Error struct {
	Kind    Kind
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Backend, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classifier maps an SDK error onto a Kind.
type Classifier func(error) Kind

// Wrap classifies err on behalf of backend/op. Errors that are already
// classified, such as a source failure surfacing through a destination
// write, pass through untouched.
func Wrap(backend, op string, err error, classify Classifier) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: classifyCommon(err, classify), Backend: backend, Op: op, Err: err}
}

func classifyCommon(err error, classify Classifier) Kind {
	switch {
	case errors.Is(err, chunk.ErrSizeMismatch):
		return KindSizeMismatch
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	case errors.Is(err, io.ErrUnexpectedEOF):
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	if classify == nil {
		return KindInternal
	}
	return classify(err)
}

// KindOf returns the kind of a classified error, or KindInternal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, chunk.ErrSizeMismatch) {
		return KindSizeMismatch
	}
	return KindInternal
}

// ClassifyHTTPStatus maps a backend HTTP status code to a Kind. It is the
// fallback used by every SDK-specific classifier.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status == 404:
		return KindSourceNotFound
	case status == 401, status == 403:
		return KindAccessDenied
	case status == 408, status == 429, status >= 500:
		return KindTransient
	default:
		return KindInternal
	}
}
