// Package storagetest provides in-memory storage accessors for tests.
//
// A Bucket stores objects keyed by "container/key" and implements both
// storage.Source and storage.Destination. Writes are staged and only become
// visible once the whole stream was consumed and matched the expected size,
// the same commit behaviour the real destinations provide.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/your-org/replicator/pkg/storage"
	"github.com/your-org/replicator/pkg/storage/chunk"
)

// Backend is the name reported in classified errors.
const Backend = "memory"

// Object is a stored object.
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// Bucket is an in-memory object store.
type Bucket struct {
	name      string
	chunkSize int

	mu      sync.RWMutex
	objects map[string]Object

	heads  atomic.Int64
	opens  atomic.Int64
	reads  atomic.Int64
	writes atomic.Int64
	stats  atomic.Int64
}

var (
	_ storage.Source      = (*Bucket)(nil)
	_ storage.Destination = (*Bucket)(nil)
)

// NewBucket creates an empty bucket that streams chunks of chunkSize bytes.
func NewBucket(name string, chunkSize int) *Bucket {
	return &Bucket{name: name, chunkSize: chunkSize, objects: map[string]Object{}}
}

// Put stores an object directly, bypassing the counters.
func (b *Bucket) Put(container, key string, data []byte, contentType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[container+"/"+key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
}

// Get returns the object stored at path.
func (b *Bucket) Get(path string) (Object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[path]
	return obj, ok
}

// Len returns the number of stored objects.
func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// Heads returns the number of FetchMetadata calls.
func (b *Bucket) Heads() int64 { return b.heads.Load() }

// Opens returns the number of OpenStream calls.
func (b *Bucket) Opens() int64 { return b.opens.Load() }

// ChunksRead returns the number of chunks handed out by source streams.
func (b *Bucket) ChunksRead() int64 { return b.reads.Load() }

// Writes returns the number of WriteStream calls.
func (b *Bucket) Writes() int64 { return b.writes.Load() }

// Stats returns the number of Exists calls.
func (b *Bucket) Stats() int64 { return b.stats.Load() }

func (b *Bucket) notFound(op, path string) error {
	return &storage.Error{
		Kind:    storage.KindSourceNotFound,
		Backend: Backend,
		Op:      op,
		Err:     fmt.Errorf("no object at %q", path),
	}
}

func (b *Bucket) FetchMetadata(_ context.Context, container, key string) (storage.ObjectMetadata, error) {
	b.heads.Add(1)
	obj, ok := b.Get(container + "/" + key)
	if !ok {
		return storage.ObjectMetadata{}, b.notFound("head object", container+"/"+key)
	}
	return storage.ObjectMetadata{Size: uint64(len(obj.Data)), ContentType: obj.ContentType}, nil
}

func (b *Bucket) OpenStream(_ context.Context, container, key string) (chunk.Stream, error) {
	b.opens.Add(1)
	obj, ok := b.Get(container + "/" + key)
	if !ok {
		return nil, b.notFound("get object", container+"/"+key)
	}
	inner := chunk.FromReader(io.NopCloser(bytes.NewReader(obj.Data)), chunk.NewPool(b.chunkSize))
	return &countingStream{Stream: inner, reads: &b.reads}, nil
}

func (b *Bucket) SourceURI(container, key string) string {
	return "mem://" + container + "/" + key
}

func (b *Bucket) DestinationURI(path string) string {
	return "mem://" + b.name + "/" + path
}

func (b *Bucket) Exists(_ context.Context, path string) (bool, error) {
	b.stats.Add(1)
	_, ok := b.Get(path)
	return ok, nil
}

func (b *Bucket) WriteStream(ctx context.Context, path string, stream chunk.Stream, opts storage.WriteOptions) (uint64, error) {
	b.writes.Add(1)

	var staged bytes.Buffer
	n, err := chunk.Drain(ctx, stream, func(p []byte) error {
		_, err := staged.Write(p)
		return err
	})
	if err != nil {
		return n, storage.Wrap(Backend, "write object", err, nil)
	}
	if n != opts.ExpectedSize {
		return n, storage.Wrap(Backend, "write object", &chunk.SizeMismatchError{Expected: opts.ExpectedSize, Got: n}, nil)
	}

	meta := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		meta[k] = v
	}

	b.mu.Lock()
	b.objects[path] = Object{Data: staged.Bytes(), ContentType: opts.ContentType, Metadata: meta}
	b.mu.Unlock()
	return n, nil
}

func (b *Bucket) Close() error {
	return nil
}

type countingStream struct {
	chunk.Stream
	reads *atomic.Int64
}

func (s *countingStream) Next(ctx context.Context) (chunk.Chunk, error) {
	c, err := s.Stream.Next(ctx)
	if err == nil {
		s.reads.Add(1)
	}
	return c, err
}
