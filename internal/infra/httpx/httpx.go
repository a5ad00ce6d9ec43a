package httpx

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
)

// Transport 把“固定 UA + 代理 + keep-alive 策略”固化为统一策略。
//
// 设计目标：provider 只负责“解析 HTML”，不关心网络策略细节。
// 与页面抓取相关的并发许可与 jitter 在 Fetcher 中实现，这里只处理单个请求。
type Transport struct {
	Base *http.Transport

	// UserAgent 在请求未显式设置 User-Agent 时注入。
	UserAgent string

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// Clone 会复制 Header 等，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" && t.UserAgent != "" {
		r.Header.Set("User-Agent", t.UserAgent)
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return t.Base.RoundTrip(r)
}

// ClientOptions 描述页面抓取用 HTTP client 的网络策略。
type ClientOptions struct {
	UserAgent string
	ProxyURL  string
	Timeout   time.Duration
}

// NewClient 构造用于页面抓取的 HTTP client。
//
// 规则：
// - UserAgent 为空时使用 DefaultUserAgent
// - ProxyURL 非空：走代理，且禁用 keep-alive（每请求新连接）
// - 只做一次尝试，不重试；Timeout<=0 时使用 DefaultTimeout
func NewClient(opts ClientOptions) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// 响应头等待上限跟随整体超时，不能比 Timeout 更早触发。
	base := &http.Transport{
		Proxy:                 nil,
		MaxIdleConnsPerHost:   16,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	disableKeepAlives := false
	if proxyURL := strings.TrimSpace(opts.ProxyURL); proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(u)
		// proxy 模式强制每请求新连接（代理池轮换依赖该行为）。
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &http.Client{
		Transport: &Transport{
			Base:              base,
			UserAgent:         ua,
			DisableKeepAlives: disableKeepAlives,
		},
		Timeout: timeout,
	}, nil
}
