package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient_ProxyDisablesKeepAlive(t *testing.T) {
	c, err := NewClient(ClientOptions{ProxyURL: "http://127.0.0.1:8080"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if !tr.Base.DisableKeepAlives {
		t.Fatalf("期望禁用 keep-alive，但 Base.DisableKeepAlives=false")
	}
	if !tr.DisableKeepAlives {
		t.Fatalf("期望设置 Request.Close=true 的额外保险，但 DisableKeepAlives=false")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(ClientOptions{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr := c.Transport.(*Transport)
	if tr.Base.Proxy != nil {
		t.Fatalf("不期望启用代理，但 Proxy!=nil")
	}
	if tr.UserAgent != DefaultUserAgent {
		t.Fatalf("期望默认 UA=%q，实际 %q", DefaultUserAgent, tr.UserAgent)
	}
	if c.Timeout != DefaultTimeout {
		t.Fatalf("期望默认超时 %v，实际 %v", DefaultTimeout, c.Timeout)
	}
}

func TestNewClient_InvalidProxyURL(t *testing.T) {
	_, err := NewClient(ClientOptions{ProxyURL: "http://[::1"})
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestTransport_InjectsUserAgent(t *testing.T) {
	got := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{UserAgent: "moviecsv-test/1.0"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("请求失败：%v", err)
	}
	resp.Body.Close()
	if ua := <-got; ua != "moviecsv-test/1.0" {
		t.Fatalf("期望注入配置的 UA，实际 %q", ua)
	}

	// 调用方显式设置的 UA 不应被覆盖。
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "explicit")
	resp, err = c.Do(req)
	if err != nil {
		t.Fatalf("请求失败：%v", err)
	}
	resp.Body.Close()
	if ua := <-got; ua != "explicit" {
		t.Fatalf("期望保留显式 UA，实际 %q", ua)
	}
}

func TestNewClient_HeaderTimeoutFollowsTimeout(t *testing.T) {
	for _, want := range []time.Duration{5 * time.Second, DefaultTimeout, 30 * time.Second, 2 * time.Minute} {
		c, err := NewClient(ClientOptions{Timeout: want})
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		tr := c.Transport.(*Transport)
		if c.Timeout != want {
			t.Fatalf("期望 Timeout=%v，实际 %v", want, c.Timeout)
		}
		// 等待响应头不能比整体超时更早失败。
		if h := tr.Base.ResponseHeaderTimeout; h != 0 && h < want {
			t.Fatalf("Timeout=%v 时 ResponseHeaderTimeout=%v 会提前超时", want, h)
		}
	}
}

func TestNewClient_SlowHeadersWithinTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("响应头在超时内到达，不期望错误：%v", err)
	}
	resp.Body.Close()
}
