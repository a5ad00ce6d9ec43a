package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/moviecsv/internal/app/run"
	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是一个“简洁版”的交互终端进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr，不污染 stdout（--json 时 stdout 只有 RunReport）
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无条目完成时也会定期输出一行
type progressUI struct {
	w   io.Writer
	eff config.EffectiveConfig

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total      int
	done       int
	written    int
	incomplete int
	failed     int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer, eff config.EffectiveConfig) *progressUI {
	return &progressUI{
		w:                  w,
		eff:                eff,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(opts run.Options) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	fmt.Fprintf(p.w, "[%s] moviecsv run %s\n", now.Format("15:04:05"), opts.RunID)
	fmt.Fprintln(p.w, "配置（生效）:")
	if p.eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", p.eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  listing: %s\n", truncate(opts.ListingURL, 120))
	fmt.Fprintf(p.w, "  provider: %s\n", p.eff.Provider)
	fmt.Fprintf(p.w, "  concurrency: %d\n", p.eff.Concurrency)
	fmt.Fprintf(p.w, "  jitter: [%s, %s)\n", p.eff.JitterMin, p.eff.JitterMax)
	fmt.Fprintf(p.w, "  timeout: %s\n", p.eff.RequestTimeout)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(p.eff.ProxyURL))
	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  csv: %s\n", opts.Output)
	if p.eff.Report != "" {
		fmt.Fprintf(p.w, "  report: %s\n", p.eff.Report)
	}
	if p.eff.MetricsFile != "" {
		fmt.Fprintf(p.w, "  metrics: %s\n", p.eff.MetricsFile)
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "listing":
		fmt.Fprintf(p.w, "列表页: bytes=%d (%s)\n", intField(fields, "bytes"), formatShortDuration(dur))
	case "discover":
		p.total = intField(fields, "items")
		fmt.Fprintf(p.w, "发现: items=%d (%s)\n\n", p.total, formatShortDuration(dur))
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "exec":
		fmt.Fprintf(p.w, "\n抓取: items=%d (%s)\n", intField(fields, "items"), formatShortDuration(dur))
	case "commit":
		fmt.Fprintf(p.w, "写入: rows=%d (%s)\n", intField(fields, "rows"), formatShortDuration(dur))
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	switch res.Status {
	case domain.StatusWritten:
		p.written++
		fmt.Fprintf(p.w, "[%d/%d] OK %s %s (%s)\n",
			idx, total, res.URL, truncate(res.Title, 60), formatShortDuration(dur),
		)
	case domain.StatusIncomplete:
		p.incomplete++
		fmt.Fprintf(p.w, "[%d/%d] SKIP %s missing=%s (%s)\n",
			idx, total, res.URL, strings.Join(res.Missing, ","), formatShortDuration(dur),
		)
	default:
		p.failed++
		fmt.Fprintf(p.w, "[%d/%d] FAIL %s %s: %s (%s)\n",
			idx, total, res.URL, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

// Stop 停止 keepalive ticker；可重复调用。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) progressLineLocked() string {
	active := p.eff.Concurrency
	if remain := p.total - p.done; remain < active {
		active = remain
	}
	return fmt.Sprintf("进度: done=%d/%d written=%d incomplete=%d failed=%d active<=%d elapsed=%s",
		p.done, p.total, p.written, p.incomplete, p.failed, active, formatElapsed(time.Since(p.startedAt)),
	)
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stopCh := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done < p.total && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintln(p.w, p.progressLineLocked())
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

// truncate 按 rune 截断（标题可能是多字节文本）。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
