package chunk

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

type prefetchStream struct {
	src    Stream
	ch     chan Chunk
	cancel context.CancelFunc
	g      *errgroup.Group

	once sync.Once
	err  error
}

// Prefetch reads up to depth chunks ahead of the consumer on a separate
// goroutine so that source reads overlap destination writes. At most
// depth+2 chunks are alive at any time. A depth of zero returns s unchanged.
func Prefetch(ctx context.Context, s Stream, depth int) Stream {
	if depth <= 0 {
		return s
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &prefetchStream{
		src:    s,
		ch:     make(chan Chunk, depth),
		cancel: cancel,
		g:      g,
	}

	g.Go(func() error {
		defer close(p.ch)
		for {
			c, err := s.Next(gctx)
			if err != nil {
				// io.EOF included; Next reports it once the channel drains.
				return err
			}
			select {
			case p.ch <- c:
			case <-gctx.Done():
				c.Release()
				return gctx.Err()
			}
		}
	})

	return p
}

func (p *prefetchStream) Next(ctx context.Context) (Chunk, error) {
	select {
	case c, ok := <-p.ch:
		if ok {
			return c, nil
		}
		return Chunk{}, p.wait()
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

func (p *prefetchStream) wait() error {
	p.once.Do(func() {
		p.err = p.g.Wait()
	})
	return p.err
}

func (p *prefetchStream) Close() error {
	p.cancel()
	// Closing the source unblocks a producer stuck in a body read.
	err := p.src.Close()
	for c := range p.ch {
		c.Release()
	}
	_ = p.wait()
	return err
}
