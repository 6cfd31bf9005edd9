package util

import (
	"context"
	"io"
	"sync"
)

type ctxReadCloser struct {
	ctx       context.Context
	rc        io.ReadCloser
	stop      func() bool
	closeOnce sync.Once
	closeErr  error
}

// NewCancellableReadCloser wraps rc so that reads fail with ctx.Err() once ctx
// is done. rc is also closed on cancellation, which unblocks a pending Read.
// Closing the returned reader closes rc exactly once.
func NewCancellableReadCloser(ctx context.Context, rc io.ReadCloser) io.ReadCloser {
	c := &ctxReadCloser{ctx: ctx, rc: rc}
	c.stop = context.AfterFunc(ctx, func() { c.Close() })
	return c
}

func (c *ctxReadCloser) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.rc.Read(p)
	if err != nil && c.ctx.Err() != nil {
		return n, c.ctx.Err()
	}
	return n, err
}

func (c *ctxReadCloser) Close() error {
	c.closeOnce.Do(func() {
		c.stop()
		c.closeErr = c.rc.Close()
	})
	return c.closeErr
}
