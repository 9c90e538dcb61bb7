// Package chunk moves object bodies between backends as a lazy sequence of
// bounded, pooled byte slices.
//
// Peak memory of a transfer is a function of the chunk size and the number of
// chunks in flight, never of the object size.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultSize is the upper bound of a single chunk (8 MiB).
const DefaultSize = 8 << 20

// Pool hands out fixed-size chunk buffers.
type Pool struct {
	size int
	pool sync.Pool
}

// NewPool creates a pool of buffers of the given size. Non-positive sizes
// fall back to DefaultSize.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the capacity of every buffer in the pool.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) get() *[]byte {
	buf := p.pool.Get().(*[]byte)
	*buf = (*buf)[:p.size]
	return buf
}

func (p *Pool) put(buf *[]byte) {
	p.pool.Put(buf)
}

// Chunk is one contiguous slice of an object's byte stream.
type Chunk struct {
	Data []byte

	buf  *[]byte
	pool *Pool
}

// Release returns the chunk's buffer to its pool. Data must not be used
// afterwards. Release must be called at most once per chunk.
func (c Chunk) Release() {
	if c.pool != nil && c.buf != nil {
		c.pool.put(c.buf)
	}
}

// Stream is a finite, forward-only, non-restartable sequence of chunks.
type Stream interface {
	// Next returns the following chunk, or io.EOF once the stream is exhausted.
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// ErrSizeMismatch is matched by every *SizeMismatchError.
var ErrSizeMismatch = errors.New("size mismatch")

// SizeMismatchError reports a stream that produced a byte count different
// from the one announced by the object's metadata.
type SizeMismatchError struct {
	Expected uint64
	Got      uint64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: expected %d bytes, got %d", e.Expected, e.Got)
}

func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

type readerStream struct {
	r    io.ReadCloser
	pool *Pool
	done bool
}

// FromReader splits r into chunks of pool.Size() bytes. Each call to Next
// reads exactly one chunk; nothing is read ahead.
func FromReader(r io.ReadCloser, pool *Pool) Stream {
	return &readerStream{r: r, pool: pool}
}

func (s *readerStream) Next(ctx context.Context) (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	buf := s.pool.get()
	n, err := io.ReadFull(s.r, *buf)
	switch {
	case err == nil:
		return Chunk{Data: (*buf)[:n], buf: buf, pool: s.pool}, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		return Chunk{Data: (*buf)[:n], buf: buf, pool: s.pool}, nil
	case errors.Is(err, io.EOF):
		s.done = true
		s.pool.put(buf)
		return Chunk{}, io.EOF
	default:
		s.pool.put(buf)
		return Chunk{}, err
	}
}

func (s *readerStream) Close() error {
	return s.r.Close()
}

type expectStream struct {
	Stream
	expected uint64
	seen     uint64
}

// Expect wraps s so that it fails with *SizeMismatchError as soon as it
// yields more than expected bytes, or ends having yielded fewer.
func Expect(s Stream, expected uint64) Stream {
	return &expectStream{Stream: s, expected: expected}
}

func (s *expectStream) Next(ctx context.Context) (Chunk, error) {
	c, err := s.Stream.Next(ctx)
	if errors.Is(err, io.EOF) {
		if s.seen != s.expected {
			return Chunk{}, &SizeMismatchError{Expected: s.expected, Got: s.seen}
		}
		return Chunk{}, io.EOF
	}
	if err != nil {
		return Chunk{}, err
	}

	s.seen += uint64(len(c.Data))
	if s.seen > s.expected {
		c.Release()
		return Chunk{}, &SizeMismatchError{Expected: s.expected, Got: s.seen}
	}
	return c, nil
}

// Drain pulls every chunk from s in order and hands it to fn. It returns the
// number of bytes fn accepted.
func Drain(ctx context.Context, s Stream, fn func([]byte) error) (uint64, error) {
	var written uint64
	for {
		c, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		n := len(c.Data)
		err = fn(c.Data)
		c.Release()
		if err != nil {
			return written, err
		}
		written += uint64(n)
	}
}

// Reader adapts a Stream to io.Reader for upload APIs that pull bytes.
type Reader struct {
	ctx context.Context
	s   Stream
	cur Chunk
	off int
	err error
}

// NewReader returns a Reader over s. Closing the Reader releases any chunk it
// holds but leaves s open.
func NewReader(ctx context.Context, s Stream) *Reader {
	return &Reader{ctx: ctx, s: s}
}

func (r *Reader) Read(p []byte) (int, error) {
	for r.off >= len(r.cur.Data) {
		if r.err != nil {
			return 0, r.err
		}
		r.cur.Release()
		r.cur, r.off = Chunk{}, 0

		c, err := r.s.Next(r.ctx)
		if err != nil {
			r.err = err
			return 0, err
		}
		r.cur = c
	}

	n := copy(p, r.cur.Data[r.off:])
	r.off += n
	return n, nil
}

func (r *Reader) Close() error {
	r.cur.Release()
	r.cur, r.off = Chunk{}, 0
	return nil
}
