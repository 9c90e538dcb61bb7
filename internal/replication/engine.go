package replication

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/your-org/replicator/pkg/metrics"
	"github.com/your-org/replicator/pkg/storage"
	"github.com/your-org/replicator/pkg/storage/chunk"
	"github.com/your-org/replicator/pkg/tracing"
)

const (
	defaultContentType = "application/octet-stream"
	recordTimeout      = 10 * time.Second
)

// Engine replicates single objects from a Source to a Destination.
type Engine struct {
	source          storage.Source
	destination     storage.Destination
	recorder        Recorder
	logger          *zap.Logger
	prefetch        int
	retryDelay      time.Duration
	transferTimeout time.Duration
	now             func() time.Time
}

// Params configures NewEngine.
type Params struct {
	Source      storage.Source
	Destination storage.Destination
	// Recorder is optional.
	Recorder Recorder
	Logger   *zap.Logger
	// Prefetch is the number of chunks read ahead of the destination.
	Prefetch        int
	RetryDelay      time.Duration
	TransferTimeout time.Duration
}

// NewEngine constructs an Engine.
func NewEngine(p Params) *Engine {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source:          p.Source,
		destination:     p.Destination,
		recorder:        p.Recorder,
		logger:          logger,
		prefetch:        p.Prefetch,
		retryDelay:      p.RetryDelay,
		transferTimeout: p.TransferTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Replicate copies the object named by req unless the destination already
// holds it. The returned Outcome is always populated; the error is non-nil
// exactly when Outcome.Result.Status is StatusFailed.
func (e *Engine) Replicate(ctx context.Context, req Request) (Outcome, error) {
	started := e.now()
	ctx, span := tracing.Start(ctx, "replication.replicate",
		attribute.String("source.container", req.SourceContainer),
		attribute.String("source.key", req.ObjectKey),
	)
	log := e.logger.With(
		zap.String("container", req.SourceContainer),
		zap.String("key", req.ObjectKey),
	)

	log.Info("replication requested")
	res, err := e.run(ctx, req, started, log)

	out := Outcome{Result: res}
	if err == nil {
		out.Warning = e.record(ctx, res, log)
	}
	tracing.End(span, err)

	duration := res.CompletedAt.Sub(started)
	if err != nil {
		metrics.RecordReplication(string(res.Status), string(res.Error.Kind), 0, duration)
		log.Error("replication failed",
			zap.String("kind", string(res.Error.Kind)),
			zap.String("backend", res.Error.Backend),
			zap.String("op", res.Error.Op),
			zap.Bool("timeout", res.Error.Timeout),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return out, err
	}

	metrics.RecordReplication(string(res.Status), "", res.BytesTransferred, duration)
	log.Info("replication finished",
		zap.String("status", string(res.Status)),
		zap.String("destination", res.DestinationURI),
		zap.Uint64("bytes", res.BytesTransferred),
		zap.Duration("duration", duration),
	)
	return out, nil
}

func (e *Engine) run(ctx context.Context, req Request, started time.Time, log *zap.Logger) (Result, error) {
	if err := req.Validate(); err != nil {
		return e.failed(Result{Request: req, StartedAt: started}, err, false), err
	}

	path := DestinationPath(req.SourceContainer, req.ObjectKey)
	base := Result{
		Request:        req,
		SourceURI:      e.source.SourceURI(req.SourceContainer, req.ObjectKey),
		DestinationURI: e.destination.DestinationURI(path),
		StartedAt:      started,
	}

	if e.transferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.transferTimeout)
		defer cancel()
	}
	timedOut := func() bool {
		return errors.Is(ctx.Err(), context.DeadlineExceeded)
	}

	var meta storage.ObjectMetadata
	err := e.retry(ctx, log, func(ctx context.Context) error {
		ctx, span := tracing.Start(ctx, "replication.fetch_metadata")
		m, err := e.source.FetchMetadata(ctx, req.SourceContainer, req.ObjectKey)
		tracing.End(span, err)
		meta = m
		return err
	})
	if err != nil {
		return e.failed(base, err, timedOut()), err
	}
	base.Size = meta.Size
	log.Debug("source metadata fetched", zap.Uint64("size", meta.Size), zap.String("etag", meta.ETag))

	var exists bool
	err = e.retry(ctx, log, func(ctx context.Context) error {
		ctx, span := tracing.Start(ctx, "replication.exists")
		ok, err := e.destination.Exists(ctx, path)
		tracing.End(span, err)
		exists = ok
		return err
	})
	if err != nil {
		return e.failed(base, err, timedOut()), err
	}
	if exists {
		log.Info("destination object exists, skipping transfer", zap.String("destination", base.DestinationURI))
		return e.completed(base, StatusAlreadyExists, 0), nil
	}

	var written uint64
	err = e.retry(ctx, log, func(ctx context.Context) error {
		n, err := e.transfer(ctx, req, path, meta)
		written = n
		return err
	})
	if storage.KindOf(err) == storage.KindAlreadyExists {
		log.Info("destination object created concurrently", zap.String("destination", base.DestinationURI))
		return e.completed(base, StatusAlreadyExists, 0), nil
	}
	if err != nil {
		return e.failed(base, err, timedOut()), err
	}
	if written != meta.Size {
		err := &storage.Error{
			Kind:    storage.KindSizeMismatch,
			Backend: Backend,
			Op:      "verify size",
			Err:     &chunk.SizeMismatchError{Expected: meta.Size, Got: written},
		}
		return e.failed(base, err, false), err
	}
	return e.completed(base, StatusSuccess, written), nil
}

// transfer streams the object once from a freshly opened source stream.
func (e *Engine) transfer(ctx context.Context, req Request, path string, meta storage.ObjectMetadata) (uint64, error) {
	ctx, span := tracing.Start(ctx, "replication.transfer",
		attribute.Int64("object.size", int64(meta.Size)),
	)

	stream, err := e.source.OpenStream(ctx, req.SourceContainer, req.ObjectKey)
	if err != nil {
		tracing.End(span, err)
		return 0, err
	}

	s := chunk.Prefetch(ctx, chunk.Expect(stream, meta.Size), e.prefetch)
	n, err := e.destination.WriteStream(ctx, path, s, storage.WriteOptions{
		ExpectedSize: meta.Size,
		ContentType:  contentType(meta.ContentType),
		Metadata:     e.replicaMetadata(req, meta),
	})
	if cerr := s.Close(); cerr != nil {
		e.logger.Debug("close source stream", zap.Error(cerr))
	}
	tracing.End(span, err)
	return n, err
}

// retry runs fn and, if it failed transiently, runs it once more after the
// retry delay.
func (e *Engine) retry(ctx context.Context, log *zap.Logger, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || !storage.KindOf(err).Retryable() || ctx.Err() != nil {
		return err
	}

	backend, op := Backend, "replicate"
	var se *storage.Error
	if errors.As(err, &se) {
		backend, op = se.Backend, se.Op
	}
	log.Warn("transient failure, retrying once",
		zap.String("backend", backend),
		zap.String("op", op),
		zap.Duration("delay", e.retryDelay),
		zap.Error(err),
	)
	metrics.RecordRetry(backend, op)

	if e.retryDelay > 0 {
		t := time.NewTimer(e.retryDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return err
		case <-t.C:
		}
	}
	return fn(ctx)
}

func (e *Engine) record(ctx context.Context, res Result, log *zap.Logger) error {
	if e.recorder == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	ctx, span := tracing.Start(ctx, "replication.record")
	err := e.recorder.Record(ctx, res)
	tracing.End(span, err)
	if err == nil {
		return nil
	}

	name := recorderName(e.recorder)
	metrics.RecordRecorderFailure(name)
	log.Warn("recording result failed", zap.String("recorder", name), zap.Error(err))
	return &storage.Error{Kind: storage.KindRecorderFailure, Backend: name, Op: "record", Err: err}
}

func (e *Engine) replicaMetadata(req Request, meta storage.ObjectMetadata) map[string]string {
	md := map[string]string{
		"s3_bucket":     req.SourceContainer,
		"s3_key":        req.ObjectKey,
		"replicated_at": e.now().Format(time.RFC3339),
	}
	if meta.ETag != "" {
		md["s3_etag"] = meta.ETag
	}
	return md
}

func (e *Engine) completed(base Result, status Status, written uint64) Result {
	base.Status = status
	base.BytesTransferred = written
	base.CompletedAt = e.now()
	return base
}

func (e *Engine) failed(base Result, err error, timeout bool) Result {
	base.Status = StatusFailed
	base.BytesTransferred = 0
	base.Error = errorInfo(err, timeout)
	base.CompletedAt = e.now()
	return base
}

func contentType(ct string) string {
	if ct == "" {
		return defaultContentType
	}
	return ct
}

func recorderName(r Recorder) string {
	if n, ok := r.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "recorder"
}
