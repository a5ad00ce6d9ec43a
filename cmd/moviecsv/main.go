package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/moviecsv/internal/app/run"
	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/infra/fsx"
	"github.com/John-Robertt/moviecsv/internal/infra/httpx"
	"github.com/John-Robertt/moviecsv/internal/logx"
	"github.com/John-Robertt/moviecsv/internal/metrics"
	"github.com/John-Robertt/moviecsv/internal/provider"
	"github.com/John-Robertt/moviecsv/internal/provider/imdb"
	"github.com/John-Robertt/moviecsv/internal/sink"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitError 携带进程退出码。RunE 返回的错误都用它包装，
// 其余错误（来自 cobra 的参数解析）一律视为用法错误。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "错误：%v\n", ee.err)
		return ee.code
	}
	fmt.Fprintf(stderr, "参数错误：%v\n\n%s", err, cmd.UsageString())
	return exitUsage
}

type cliFlags struct {
	configPath  string
	listingURL  string
	baseURL     string
	userAgent   string
	concurrency int
	jitterMin   time.Duration
	jitterMax   time.Duration
	timeout     time.Duration
	output      string
	report      string
	metricsFile string
	logLevel    string
	proxyURL    string
	jsonOut     bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f cliFlags

	cmd := &cobra.Command{
		Use:   "moviecsv",
		Short: "抓取 IMDb 热门电影列表并写入 CSV",
		Long: `抓取“最受欢迎电影”列表页，并发抓取每部电影的详情页，
提取 title/release_date/rating/plot 四个字段；四个字段齐全的条目写入 CSV。

配置优先级：命令行参数 > 配置文件（默认 ./moviecsv.json，可选）> 内置默认值。`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMain(cmd, f, stdout, stderr)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "配置文件路径（指定后必须存在）")
	fl.StringVar(&f.listingURL, "listing-url", imdb.DefaultListingURL, "列表页 URL")
	fl.StringVar(&f.baseURL, "base-url", imdb.DefaultBaseURL, "解析相对链接的站点根 URL")
	fl.StringVar(&f.userAgent, "user-agent", httpx.DefaultUserAgent, "请求头 User-Agent")
	fl.IntVarP(&f.concurrency, "concurrency", "c", config.DefaultConcurrency, "同时在途的请求上限（1-64）")
	fl.DurationVar(&f.jitterMin, "jitter-min", 0, "每次请求前随机延迟的下界")
	fl.DurationVar(&f.jitterMax, "jitter-max", httpx.DefaultJitterMax, "每次请求前随机延迟的上界（不含）")
	fl.DurationVar(&f.timeout, "timeout", httpx.DefaultTimeout, "单次请求超时")
	fl.StringVarP(&f.output, "out", "o", config.DefaultOutput, "输出 CSV 路径")
	fl.StringVar(&f.report, "report", "", "写入 RunReport JSON 的路径（为空则不写）")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "写入 Prometheus textfile 指标的路径（为空则不写）")
	fl.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "日志级别：debug|info|warn|error")
	fl.StringVar(&f.proxyURL, "proxy", "", "HTTP 代理 URL")
	fl.BoolVar(&f.jsonOut, "json", false, "把 RunReport JSON 输出到 stdout（摘要改走 stderr）")

	return cmd
}

// cliArgs 只把显式指定的参数交给 config 层，未指定的保持 nil，由配置文件/默认值决定。
func cliArgs(cmd *cobra.Command, f cliFlags) config.CLIArgs {
	changed := cmd.Flags().Changed
	a := config.CLIArgs{ConfigPath: f.configPath}
	if changed("listing-url") {
		a.ListingURL = &f.listingURL
	}
	if changed("base-url") {
		a.BaseURL = &f.baseURL
	}
	if changed("user-agent") {
		a.UserAgent = &f.userAgent
	}
	if changed("concurrency") {
		a.Concurrency = &f.concurrency
	}
	if changed("jitter-min") {
		a.JitterMin = &f.jitterMin
	}
	if changed("jitter-max") {
		a.JitterMax = &f.jitterMax
	}
	if changed("timeout") {
		a.Timeout = &f.timeout
	}
	if changed("out") {
		a.Output = &f.output
	}
	if changed("report") {
		a.Report = &f.report
	}
	if changed("metrics-file") {
		a.MetricsFile = &f.metricsFile
	}
	if changed("log-level") {
		a.LogLevel = &f.logLevel
	}
	if changed("proxy") {
		a.ProxyURL = &f.proxyURL
	}
	return a
}

func runMain(cmd *cobra.Command, f cliFlags, stdout, stderr io.Writer) error {
	ctx := cmd.Context()
	started := time.Now()

	cwd, err := os.Getwd()
	if err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("读取当前目录失败：%w", err)}
	}
	eff, err := config.LoadEffective(cwd, cliArgs(cmd, f))
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	log, err := logx.New(eff.LogLevel, stderr)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	defer func() { _ = log.Sync() }()

	reg, err := provider.NewRegistry(imdb.Provider{})
	if err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("初始化 provider registry 失败：%w", err)}
	}
	p, ok := reg.Get(eff.Provider)
	if !ok {
		return &exitError{code: exitFailure, err: &config.Error{
			Code: config.ErrCodeInvalid,
			Path: eff.ConfigFile,
			Err:  fmt.Errorf("未知 provider %q（可选：%v）", eff.Provider, reg.Names()),
		}}
	}

	client, err := httpx.NewClient(httpx.ClientOptions{
		UserAgent: eff.UserAgent,
		ProxyURL:  eff.ProxyURL,
		Timeout:   eff.RequestTimeout,
	})
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	m := metrics.New()
	fetcher := &httpx.Fetcher{
		Client:  client,
		Permits: httpx.NewPermits(eff.Concurrency),
		Jitter:  httpx.NewJitter(eff.JitterMin, eff.JitterMax, 0),
		Metrics: m,

		MaxBodyBytes: eff.MaxBodyBytes,
	}

	var obs run.Observer
	if w, interactive := pickProgressWriter(stderr); interactive {
		ui := newProgressUI(w, eff)
		defer ui.Stop()
		obs = ui
	}

	log.Debug("生效配置",
		zap.String("config_file", eff.ConfigFile),
		zap.String("listing_url", eff.ListingURL),
		zap.Int("concurrency", eff.Concurrency),
		zap.Duration("jitter_min", eff.JitterMin),
		zap.Duration("jitter_max", eff.JitterMax),
		zap.String("output", eff.Output),
	)

	rr, runErr := run.Execute(ctx, run.Deps{
		Fetcher:  fetcher,
		Provider: p,
		Logger:   log,
		Metrics:  m,
		Observer: obs,
	}, run.Options{
		ListingURL: eff.ListingURL,
		BaseURL:    eff.BaseURL,
		Output:     eff.Output,
	})

	// 诊断产物：无论成功与否都尽量写出，失败只记日志。
	if eff.Report != "" {
		if err := writeReportFile(eff.Report, rr); err != nil {
			log.Error("写入 report 失败", zap.String("path", eff.Report), zap.Error(err))
		}
	}
	if eff.MetricsFile != "" {
		if err := m.WriteTextfile(eff.MetricsFile); err != nil {
			log.Error("写入 metrics 失败", zap.String("path", eff.MetricsFile), zap.Error(err))
		}
	}

	emitReport(stdout, stderr, rr, f.jsonOut, time.Since(started))

	if runErr != nil {
		return &exitError{code: exitFailure, err: describeRunError(runErr)}
	}
	if ctx.Err() != nil {
		return &exitError{code: exitFailure, err: errors.New("运行被中断；已写入的行已保存")}
	}
	return nil
}

func describeRunError(err error) error {
	var le *run.ListingError
	var se *sink.Error
	switch {
	case errors.As(err, &le):
		var hs *httpx.HTTPStatusError
		if errors.As(err, &hs) {
			return fmt.Errorf("列表页返回 HTTP %d：%s", hs.StatusCode, le.URL)
		}
		return err
	case errors.As(err, &se):
		if fsx.IsPathTypeConflict(err) {
			return fmt.Errorf("输出路径不可用：%w", err)
		}
		return fmt.Errorf("%w（输出文件未更新）", err)
	default:
		return err
	}
}

func emitReport(stdout, stderr io.Writer, rr domain.RunReport, jsonOut bool, elapsed time.Duration) {
	summaryW := stdout
	if jsonOut {
		// stdout 只输出一个 RunReport JSON；摘要走 stderr。
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rr)
		summaryW = stderr
	}

	for _, it := range rr.Items {
		if it.Status != domain.StatusFailed {
			continue
		}
		fmt.Fprintf(stderr, "%s %s: %s\n", it.URL, it.ErrorCode, truncate(it.ErrorMsg, 200))
	}
	fmt.Fprintf(summaryW, "完成：written=%d incomplete=%d failed=%d\n",
		rr.Summary.Written, rr.Summary.Incomplete, rr.Summary.Failed,
	)
	fmt.Fprintf(summaryW, "总耗时：%s\n", formatTotal(elapsed))
}

func writeReportFile(path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(path, b)
}

func formatTotal(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// pickProgressWriter：进度输出只在交互终端启用，且只写 stderr（不污染 stdout）。
func pickProgressWriter(stderr io.Writer) (io.Writer, bool) {
	if isTTY(stderr) {
		return stderr, true
	}
	return nil, false
}
