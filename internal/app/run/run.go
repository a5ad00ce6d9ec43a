// Package run 编排一次抓取：列表页 -> 发现条目 -> 并发抓取详情页 -> 写 CSV。
package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/metrics"
	"github.com/John-Robertt/moviecsv/internal/provider"
	"github.com/John-Robertt/moviecsv/internal/sink"
)

// Fetcher 抓取单个页面。实现负责全局并发上限与请求间隔（见 httpx.Fetcher）。
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Sink 是记录输出。实现必须并发安全。
type Sink interface {
	WriteHeader(cols []string) error
	WriteRecord(row []string) error
	Close() error
	Abort()
}

// Deps 是一次运行的外部依赖。Logger/Metrics/Observer 可为 nil。
type Deps struct {
	Fetcher  Fetcher
	Provider provider.Provider

	// OpenSink 为 nil 时使用 sink.Open。
	OpenSink func(path string) (Sink, error)

	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Observer Observer
}

type Options struct {
	ListingURL string
	BaseURL    string
	Output     string

	// RunID 为空时自动生成。
	RunID string
}

// ListingError 表示列表页无法抓取或无法解析。它对一次运行是致命的。
type ListingError struct {
	URL string
	Err error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("列表页处理失败 %s：%v", e.URL, e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }

func openCSV(path string) (Sink, error) { return sink.Open(path) }

// Execute 执行一次运行，并返回 RunReport。
//
// 约束：
// - 列表页失败返回 *ListingError，此时不创建输出文件
// - 表头先于任何数据行写入；发现 0 个条目时只写表头，视为成功
// - 单个条目的失败（抓取/解析/panic）只影响该条目
// - 写入失败（*sink.Error）是致命的：等待所有条目结束后丢弃输出并返回该错误
// - ctx 取消后未完成的条目记为 canceled，已写入的行仍会提交
func Execute(ctx context.Context, deps Deps, opts Options) (domain.RunReport, error) {
	if deps.Fetcher == nil || deps.Provider == nil {
		return domain.RunReport{}, errors.New("run: Fetcher 与 Provider 不能为空")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	open := deps.OpenSink
	if open == nil {
		open = openCSV
	}
	obs := deps.Observer

	if strings.TrimSpace(opts.RunID) == "" {
		opts.RunID = uuid.NewString()
	}
	log = log.With(zap.String("run_id", opts.RunID))

	if obs != nil {
		obs.OnStart(opts)
	}

	rr := domain.RunReport{
		RunID:      opts.RunID,
		ListingURL: opts.ListingURL,
		Output:     opts.Output,
		StartedAt:  time.Now(),
	}
	finish := func() domain.RunReport {
		rr.FinishedAt = time.Now()
		rr.Finalize()
		return rr
	}

	// 1) 列表页
	phaseStarted := time.Now()
	listing, err := deps.Fetcher.Fetch(ctx, opts.ListingURL)
	if err != nil {
		log.Error("抓取列表页失败", zap.String("url", opts.ListingURL), zap.Error(err))
		return finish(), &ListingError{URL: opts.ListingURL, Err: err}
	}
	if obs != nil {
		obs.OnPhaseDone("listing", map[string]any{"bytes": len(listing)}, time.Since(phaseStarted))
	}

	// 2) 发现条目
	phaseStarted = time.Now()
	urls, err := provider.DiscoverItems(deps.Provider, listing, opts.BaseURL)
	if err != nil {
		log.Error("解析列表页失败", zap.String("url", opts.ListingURL), zap.Error(err))
		return finish(), &ListingError{URL: opts.ListingURL, Err: err}
	}
	rr.Discovered = len(urls)
	log.Info("发现条目", zap.Int("items", len(urls)))
	if obs != nil {
		obs.OnPhaseDone("discover", map[string]any{"items": len(urls)}, time.Since(phaseStarted))
	}

	// 3) 输出：表头必须先于任何条目开始
	out, err := open(opts.Output)
	if err != nil {
		return finish(), err
	}
	if err := out.WriteHeader(domain.Header); err != nil {
		out.Abort()
		return finish(), err
	}

	// 4) 每个条目一个 goroutine；并发上限由 Fetcher 的许可控制。
	phaseStarted = time.Now()
	ex := &executor{
		fetcher:  deps.Fetcher,
		provider: deps.Provider,
		sink:     out,
		log:      log,
	}

	type execResult struct {
		res domain.ItemResult
		dur time.Duration
	}
	results := make(chan execResult, len(urls))

	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			oneStarted := time.Now()
			r := ex.one(ctx, u)
			results <- execResult{res: r, dur: time.Since(oneStarted)}
		}(u)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	rr.Items = make([]domain.ItemResult, 0, len(urls))
	done := 0
	for it := range results {
		done++
		rr.Items = append(rr.Items, it.res)
		deps.Metrics.ItemDone(it.res.Status)
		if obs != nil {
			obs.OnItemDone(done, len(urls), it.res, it.dur)
		}
	}
	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{"items": len(urls)}, time.Since(phaseStarted))
	}

	// 5) 提交输出
	if werr := ex.writeErr(); werr != nil {
		out.Abort()
		log.Error("写入输出失败，已丢弃本次输出", zap.String("output", opts.Output), zap.Error(werr))
		return finish(), werr
	}
	phaseStarted = time.Now()
	if err := out.Close(); err != nil {
		log.Error("提交输出失败", zap.String("output", opts.Output), zap.Error(err))
		return finish(), err
	}

	rr = finish()
	if obs != nil {
		obs.OnPhaseDone("commit", map[string]any{"rows": rr.Summary.Written}, time.Since(phaseStarted))
	}
	log.Info("完成",
		zap.Int("written", rr.Summary.Written),
		zap.Int("incomplete", rr.Summary.Incomplete),
		zap.Int("failed", rr.Summary.Failed),
		zap.Duration("elapsed", rr.Elapsed()),
	)
	return rr, nil
}

type executor struct {
	fetcher  Fetcher
	provider provider.Provider
	sink     Sink
	log      *zap.Logger

	mu       sync.Mutex
	firstErr error
}

func (e *executor) writeErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.firstErr
}

func (e *executor) recordWriteErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.firstErr == nil {
		e.firstErr = err
	}
}

// one 处理单个详情页：fetch -> parse -> 完整则写入。任何失败都只体现在返回的 ItemResult 上。
func (e *executor) one(ctx context.Context, url string) (item domain.ItemResult) {
	started := time.Now()
	item = domain.ItemResult{URL: url, Missing: []string{}}
	defer func() {
		if r := recover(); r != nil {
			item.Status = domain.StatusFailed
			item.ErrorCode = domain.ErrCodeInternal
			item.ErrorMsg = fmt.Sprintf("panic: %v", r)
			e.log.Error("条目处理 panic", zap.String("url", url), zap.Any("panic", r))
		}
		item.DurationMS = time.Since(started).Milliseconds()
	}()

	body, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		code := domain.ErrCodeFetchFailed
		if ctx.Err() != nil {
			code = domain.ErrCodeCanceled
		}
		e.fail(&item, code, err)
		return item
	}

	fields, err := provider.ParseFields(e.provider, body)
	if err != nil {
		e.fail(&item, domain.ErrCodeParseFailed, err)
		return item
	}
	if fields.Title.Present {
		item.Title = fields.Title.Value
	}

	if !fields.Complete() {
		item.Status = domain.StatusIncomplete
		item.Missing = fields.Missing()
		e.log.Debug("字段不完整，跳过", zap.String("url", url), zap.Strings("missing", item.Missing))
		return item
	}

	if err := e.sink.WriteRecord(fields.Row()); err != nil {
		e.recordWriteErr(err)
		e.fail(&item, domain.ErrCodeWriteFailed, err)
		return item
	}
	item.Status = domain.StatusWritten
	return item
}

func (e *executor) fail(item *domain.ItemResult, code string, err error) {
	item.Status = domain.StatusFailed
	item.ErrorCode = code
	item.ErrorMsg = err.Error()
	e.log.Warn("条目失败",
		zap.String("url", item.URL),
		zap.String("status", item.Status),
		zap.String("error_code", code),
		zap.Error(err),
	)
}
