package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/moviecsv/internal/metrics"
)

// countingDoer 记录同时在途的请求数峰值。
type countingDoer struct {
	delay time.Duration

	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64

	status int
	err    error
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(d.delay)

	if d.err != nil {
		return nil, d.err
	}
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader([]byte("<html>" + req.URL.Path + "</html>"))),
		Request:    req,
	}, nil
}

func TestFetcher_PeakConcurrencyBoundedByPermits(t *testing.T) {
	for _, n := range []int{0, 1, 5, 25, 100} {
		doer := &countingDoer{delay: 5 * time.Millisecond}
		f := &Fetcher{Client: doer, Permits: NewPermits(DefaultMaxConcurrent)}

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.Fetch(context.Background(), "https://example.test/title/x")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, doer.peak.Load(), int64(DefaultMaxConcurrent), "n=%d", n)
		assert.Equal(t, int64(n), doer.calls.Load(), "n=%d", n)
	}
}

func TestFetcher_ReleasesPermitOnError(t *testing.T) {
	p := NewPermits(2)
	f := &Fetcher{Client: &countingDoer{err: errors.New("connection reset")}, Permits: p}

	for i := 0; i < 5; i++ {
		_, err := f.Fetch(context.Background(), "https://example.test/a")
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "https://example.test/a", fe.URL)
	}

	// 所有许可应已归还：能在短超时内取满容量。
	for i := 0; i < p.Cap(); i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		require.NoError(t, p.Acquire(ctx))
		cancel()
	}
}

func TestFetcher_NonSuccessStatus(t *testing.T) {
	m := metrics.New()
	f := &Fetcher{Client: &countingDoer{status: http.StatusNotFound}, Permits: NewPermits(1), Metrics: m}

	_, err := f.Fetch(context.Background(), "https://example.test/missing")
	var hs *HTTPStatusError
	require.ErrorAs(t, err, &hs)
	assert.Equal(t, http.StatusNotFound, hs.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues(metrics.OutcomeHTTPError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestFetcher_ContextCanceledWhileWaitingForPermit(t *testing.T) {
	p := NewPermits(1)
	require.NoError(t, p.Acquire(context.Background()))
	defer p.Release()

	f := &Fetcher{Client: &countingDoer{}, Permits: p}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, "https://example.test/a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcher_BodyLimit(t *testing.T) {
	f := &Fetcher{Client: &countingDoer{}, Permits: NewPermits(1), MaxBodyBytes: 4}

	_, err := f.Fetch(context.Background(), "https://example.test/long-path")
	require.Error(t, err)
}

func TestFetcher_ReturnsBody(t *testing.T) {
	f := &Fetcher{Client: &countingDoer{}, Permits: NewPermits(1), Jitter: NewJitter(0, time.Millisecond, 1)}

	b, err := f.Fetch(context.Background(), "https://example.test/title/tt1")
	require.NoError(t, err)
	assert.Equal(t, "<html>/title/tt1</html>", string(b))
}
