package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/John-Robertt/moviecsv/internal/metrics"
)

// DefaultMaxBodyBytes 限制单个页面响应体的大小。
const DefaultMaxBodyBytes = 10 << 20

// Doer 是 Fetcher 对 HTTP client 的最小依赖（*http.Client 满足）。
// 测试可注入带计数的实现来观察在途并发。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher 在共享并发许可下抓取单个页面。
//
// 一次 Fetch 的顺序固定：取许可 -> jitter -> GET -> 读 body -> 释放许可。
// 许可在所有退出路径上都会释放（包括错误与 ctx 取消）。
// 不做缓存、不做重试。
type Fetcher struct {
	Client  Doer
	Permits *Permits
	Jitter  *Jitter

	// MaxBodyBytes<=0 时使用 DefaultMaxBodyBytes。
	MaxBodyBytes int64

	// Metrics 可为 nil。
	Metrics *metrics.Metrics
}

// Fetch 返回完整响应体；失败时错误类型为 *FetchError。
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.Client == nil {
		return nil, &FetchError{URL: url, Err: errors.New("http client 不能为空")}
	}
	if f.Permits == nil {
		return nil, &FetchError{URL: url, Err: errors.New("permits 不能为空")}
	}

	if err := f.Permits.Acquire(ctx); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer f.Permits.Release()

	started := time.Now()
	f.Metrics.FetchStarted()

	b, err := f.fetchLocked(ctx, url)

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		var hs *HTTPStatusError
		if errors.As(err, &hs) {
			outcome = metrics.OutcomeHTTPError
		}
	}
	f.Metrics.FetchDone(outcome, time.Since(started))

	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	return b, nil
}

// fetchLocked 在持有许可时执行：jitter + 单次 GET。
func (f *Fetcher) fetchLocked(ctx context.Context, url string) ([]byte, error) {
	if f.Jitter != nil {
		if err := f.Jitter.Sleep(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("响应体超过上限 %d 字节", limit)
	}
	return b, nil
}
