package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/moviecsv/internal/infra/httpx"
	"github.com/John-Robertt/moviecsv/internal/provider/imdb"
)

const (
	// ErrCodeNotFound 表示 --config 指向的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

// FileName 是 cwd 下自动发现的配置文件名。
const FileName = "moviecsv.json"

const (
	DefaultProvider    = "imdb"
	DefaultOutput      = "movies.csv"
	DefaultLogLevel    = "info"
	DefaultConcurrency = httpx.DefaultMaxConcurrent
	// MaxConcurrency 是并发上限；超出截断。
	MaxConcurrency = 64
)

// CLIArgs 是 CLI 暴露的覆盖项。指针为 nil 表示未显式指定，
// 这样 --concurrency=1 之类与默认值相同的显式值也能覆盖配置文件。
type CLIArgs struct {
	ConfigPath string

	ListingURL  *string
	BaseURL     *string
	UserAgent   *string
	Concurrency *int
	JitterMin   *time.Duration
	JitterMax   *time.Duration
	Timeout     *time.Duration
	Output      *string
	Report      *string
	MetricsFile *string
	LogLevel    *string
	ProxyURL    *string
}

// FileConfig 对应 moviecsv.json 的解析结构。
type FileConfig struct {
	ListingURL            string       `json:"listing_url"`
	BaseURL               string       `json:"base_url"`
	UserAgent             string       `json:"user_agent"`
	MaxConcurrentRequests int          `json:"max_concurrent_requests"`
	JitterMinMS           *int         `json:"jitter_min_ms"`
	JitterMaxMS           *int         `json:"jitter_max_ms"`
	RequestTimeoutMS      int          `json:"request_timeout_ms"`
	MaxBodyBytes          int64        `json:"max_body_bytes"`
	Output                string       `json:"output"`
	Report                string       `json:"report"`
	MetricsFile           string       `json:"metrics_file"`
	Provider              string       `json:"provider"`
	Proxy                 *ProxyConfig `json:"proxy"`
	LogLevel              string       `json:"log_level"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	ListingURL string
	BaseURL    string
	UserAgent  string
	// Provider 只做规范化；是否已注册由 provider.Registry 判断。
	Provider   string

	Concurrency    int
	JitterMin      time.Duration
	JitterMax      time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	ProxyURL       string

	// Output/Report/MetricsFile 均为绝对路径；Report/MetricsFile 为空表示不输出。
	Output      string
	Report      string
	MetricsFile string

	LogLevel string
	// ConfigFile 是实际读取到的配置文件路径；未读取时为空。
	ConfigFile string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试 <cwd>/moviecsv.json（可选）
//
// 覆盖优先级（固定）：CLI > 配置文件 > 内置默认。
// 相对路径（output/report/metrics_file）以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	required := false
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		if required {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		cfgPath = ""
	}

	eff, err := merge(cwdAbs, cli, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.ConfigFile = cfgPath
	return eff, nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		ListingURL:  pickString(cli.ListingURL, fc.ListingURL, imdb.DefaultListingURL),
		BaseURL:     pickString(cli.BaseURL, fc.BaseURL, imdb.DefaultBaseURL),
		UserAgent:   pickString(cli.UserAgent, fc.UserAgent, httpx.DefaultUserAgent),
		Provider:    strings.ToLower(pickString(nil, fc.Provider, DefaultProvider)),
		LogLevel:    strings.ToLower(pickString(cli.LogLevel, fc.LogLevel, DefaultLogLevel)),
		ProxyURL:    pickString(cli.ProxyURL, proxyURLOf(fc), ""),
		Output:      absCleanFrom(cwdAbs, pickString(cli.Output, fc.Output, DefaultOutput)),
		Report:      absCleanFrom(cwdAbs, pickString(cli.Report, fc.Report, "")),
		MetricsFile: absCleanFrom(cwdAbs, pickString(cli.MetricsFile, fc.MetricsFile, "")),
	}

	if err := validateHTTPURL("listing_url", eff.ListingURL); err != nil {
		return EffectiveConfig{}, err
	}
	if err := validateHTTPURL("base_url", eff.BaseURL); err != nil {
		return EffectiveConfig{}, err
	}
	if eff.ProxyURL != "" {
		if _, err := url.Parse(eff.ProxyURL); err != nil {
			return EffectiveConfig{}, fmt.Errorf("proxy.url 无效：%w", err)
		}
	}
	if err := validateLogLevel(eff.LogLevel); err != nil {
		return EffectiveConfig{}, err
	}

	// 并发：范围 [1, 64]；超出截断，0 表示使用默认值。
	concurrency := fc.MaxConcurrentRequests
	if cli.Concurrency != nil {
		concurrency = *cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	eff.Concurrency = min(max(concurrency, 1), MaxConcurrency)

	eff.JitterMin = pickDuration(cli.JitterMin, msPtr(fc.JitterMinMS), 0)
	eff.JitterMax = pickDuration(cli.JitterMax, msPtr(fc.JitterMaxMS), httpx.DefaultJitterMax)
	if eff.JitterMin < 0 {
		return EffectiveConfig{}, fmt.Errorf("jitter_min_ms 不能为负数：%s", eff.JitterMin)
	}
	if eff.JitterMax < eff.JitterMin {
		return EffectiveConfig{}, fmt.Errorf("jitter_max_ms（%s）不能小于 jitter_min_ms（%s）", eff.JitterMax, eff.JitterMin)
	}

	var fileTimeout *time.Duration
	if fc.RequestTimeoutMS != 0 {
		d := time.Duration(fc.RequestTimeoutMS) * time.Millisecond
		fileTimeout = &d
	}
	eff.RequestTimeout = pickDuration(cli.Timeout, fileTimeout, httpx.DefaultTimeout)
	if eff.RequestTimeout <= 0 {
		return EffectiveConfig{}, fmt.Errorf("request_timeout_ms 必须为正数：%s", eff.RequestTimeout)
	}

	// max_body_bytes：0 表示使用默认值；只由配置文件控制。
	switch {
	case fc.MaxBodyBytes < 0:
		return EffectiveConfig{}, fmt.Errorf("max_body_bytes 不能为负数：%d", fc.MaxBodyBytes)
	case fc.MaxBodyBytes == 0:
		eff.MaxBodyBytes = httpx.DefaultMaxBodyBytes
	default:
		eff.MaxBodyBytes = fc.MaxBodyBytes
	}

	if eff.Report != "" && eff.Report == eff.Output {
		return EffectiveConfig{}, fmt.Errorf("report 不能与 output 相同：%q", eff.Report)
	}
	return eff, nil
}

func pickString(cli *string, file, def string) string {
	if cli != nil {
		return strings.TrimSpace(*cli)
	}
	if v := strings.TrimSpace(file); v != "" {
		return v
	}
	return def
}

func pickDuration(cli, file *time.Duration, def time.Duration) time.Duration {
	if cli != nil {
		return *cli
	}
	if file != nil {
		return *file
	}
	return def
}

func msPtr(ms *int) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

func proxyURLOf(fc FileConfig) string {
	if fc.Proxy == nil {
		return ""
	}
	return fc.Proxy.URL
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", field, raw)
	}
	return nil
}

func validateLogLevel(l string) error {
	switch l {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log_level 只能是 debug/info/warn/error，实际是 %q", l)
	}
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 为空：返回空串
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
