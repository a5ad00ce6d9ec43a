package domain

import (
	"sort"
	"time"
)

const (
	StatusWritten    = "written"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

const (
	ErrCodeFetchFailed = "fetch_failed"
	ErrCodeParseFailed = "parse_failed"
	ErrCodeWriteFailed = "write_failed"
	ErrCodeCanceled    = "canceled"
	// ErrCodeInternal 表示单个条目处理过程中的未预期错误（例如 panic）。
	ErrCodeInternal = "internal_error"
)

// RunReport 是一次运行的对外稳定输出（report.json / --json）。
type RunReport struct {
	RunID      string `json:"run_id"`
	ListingURL string `json:"listing_url"`
	Output     string `json:"output"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ElapsedMS  int64     `json:"elapsed_ms"`

	Discovered int           `json:"discovered"`
	Summary    ReportSummary `json:"summary"`
	Items      []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Written    int `json:"written"`
	Incomplete int `json:"incomplete"`
	Failed     int `json:"failed"`
}

// ItemResult 是单个详情页的处理结果。
type ItemResult struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Status string `json:"status"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	// Missing 仅在 Status=incomplete 时非空：缺失的字段名（表头顺序）。
	Missing []string `json:"missing"`

	DurationMS int64 `json:"duration_ms"`
}

// Elapsed 返回整次运行的墙钟耗时。
func (r RunReport) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Finalize 做三件事：
// 1) 时间统一为 UTC，并据此计算 elapsed_ms
// 2) items 稳定排序：按 url 字典序（完成顺序本身不稳定，不应泄漏到报告里）
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	r.ElapsedMS = r.Elapsed().Milliseconds()

	if r.Items == nil {
		r.Items = []ItemResult{}
	}
	sort.SliceStable(r.Items, func(i, j int) bool {
		return r.Items[i].URL < r.Items[j].URL
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusWritten:
			s.Written++
		case StatusIncomplete:
			s.Incomplete++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}
