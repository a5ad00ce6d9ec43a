package httpx

import (
	"fmt"
	"strings"
)

// FetchError 表示一次页面抓取失败（网络错误、超时、非 2xx 都归为此类）。
// 是否致命由上层决定：列表页失败终止整次运行，详情页失败只影响该条目。
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("抓取 %s 失败：%v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPStatusError 表示站点返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}
