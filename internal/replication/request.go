package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/your-org/replicator/pkg/storage"
)

// Backend names errors raised by the engine itself.
const Backend = "engine"

// Request identifies the source object to replicate.
type Request struct {
	SourceContainer string
	ObjectKey       string
}

// Validate rejects requests that cannot be mapped to a destination path.
func (r Request) Validate() error {
	var problems []string
	if r.SourceContainer == "" {
		problems = append(problems, "source container is required")
	}
	if r.ObjectKey == "" {
		problems = append(problems, "object key is required")
	}
	if strings.Contains(r.SourceContainer, "/") {
		problems = append(problems, "source container must not contain '/'")
	}
	if len(problems) == 0 {
		return nil
	}
	return &storage.Error{
		Kind:    storage.KindInvalidRequest,
		Backend: Backend,
		Op:      "validate request",
		Err:     errors.New(strings.Join(problems, "; ")),
	}
}

// DestinationPath maps a source object onto its destination object name.
// Container names never contain '/', so distinct pairs never collide.
func DestinationPath(container, key string) string {
	return container + "/" + key
}

// Status is the outcome of a replication.
type Status string

const (
	StatusSuccess       Status = "Success"
	StatusAlreadyExists Status = "AlreadyExists"
	StatusFailed        Status = "Failed"
)

// ErrorInfo describes why a replication failed. It carries no SDK message,
// so it is safe to hand to callers.
type ErrorInfo struct {
	Kind    storage.Kind
	Backend string
	Op      string
	// Timeout is set when the transfer deadline expired.
	Timeout bool
}

// Message returns a caller-facing description of the failure.
func (e *ErrorInfo) Message() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s timed out", e.Backend, e.Op)
	}
	var what string
	switch e.Kind {
	case storage.KindSourceNotFound:
		what = "source object not found"
	case storage.KindAccessDenied:
		what = "access denied"
	case storage.KindTransient:
		what = "backend temporarily unavailable"
	case storage.KindQuotaExceeded:
		what = "destination quota exceeded"
	case storage.KindSizeMismatch:
		what = "transferred size does not match source size"
	case storage.KindInvalidRequest:
		what = "invalid request"
	default:
		what = "internal error"
	}
	return fmt.Sprintf("%s: %s %s failed", what, e.Backend, e.Op)
}

func errorInfo(err error, timeout bool) *ErrorInfo {
	info := &ErrorInfo{Kind: storage.KindInternal, Backend: Backend, Op: "replicate", Timeout: timeout}
	var se *storage.Error
	if errors.As(err, &se) {
		info.Kind, info.Backend, info.Op = se.Kind, se.Backend, se.Op
	}
	if timeout {
		info.Kind = storage.KindTransient
	}
	return info
}

// Result describes one finished replication. It is built once and never
// modified afterwards.
type Result struct {
	Request          Request
	Status           Status
	SourceURI        string
	DestinationURI   string
	BytesTransferred uint64
	Size             uint64
	StartedAt        time.Time
	CompletedAt      time.Time
	Error            *ErrorInfo
}

// Outcome pairs a Result with a non-fatal recorder failure, if any.
type Outcome struct {
	Result  Result
	Warning error
}

// TransferRecord is the persisted form of a Success or AlreadyExists result.
type TransferRecord struct {
	ID              string    `json:"id"`
	SourceContainer string    `json:"source_container"`
	ObjectKey       string    `json:"object_key"`
	SourceURI       string    `json:"source_uri"`
	DestinationURI  string    `json:"destination_uri"`
	Status          Status    `json:"status"`
	Bytes           uint64    `json:"bytes"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// Recorder persists completed outcomes.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}

// ErrNoRecord is returned by a RecordFinder when nothing was recorded for
// the requested object.
var ErrNoRecord = errors.New("no transfer record")

// RecordFinder looks up the most recent record for a source object.
type RecordFinder interface {
	Latest(ctx context.Context, container, key string) (TransferRecord, error)
}
