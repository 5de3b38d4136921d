package ship

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// ThrottledReader wraps r so that reads are rate-limited to a fixed
// bandwidth, following the same "wrap an io.Reader with per-read
// bookkeeping" shape as progress.Reader, but enforcing a token-bucket cap
// instead of just reporting progress.
type ThrottledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledReader caps r to kbps kilobits per second. A kbps of 0 means
// unlimited, and NewThrottledReader returns r unchanged in that case.
func NewThrottledReader(ctx context.Context, r io.Reader, kbps int) io.Reader {
	if kbps <= 0 {
		return r
	}
	bytesPerSec := kbps * 1000 / 8
	burst := bytesPerSec
	if burst < 1<<20 {
		burst = 1 << 20 // large enough to accommodate a typical io.Copy buffer
	}
	return &ThrottledReader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
