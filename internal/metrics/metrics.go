// Package metrics 收集单次运行的抓取指标，并可导出为 Prometheus textfile。
//
// 运行是一次性的 CLI 进程，没有 /metrics 端点；需要接入监控时由 node_exporter 的
// textfile collector 读取导出的文件。
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "moviecsv"

// 请求结果标签值。
const (
	OutcomeOK        = "ok"
	OutcomeHTTPError = "http_error"
	OutcomeError     = "error"
)

// Metrics 持有本次运行的独立 registry（不污染全局 DefaultRegisterer，便于测试多次构造）。
//
// 所有方法对 nil receiver 安全：未启用指标时调用方无需判空。
type Metrics struct {
	Registry *prometheus.Registry

	Requests *prometheus.CounterVec
	InFlight prometheus.Gauge
	Duration prometheus.Histogram
	Items    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Total number of page fetches by outcome.",
		}, []string{"outcome"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_in_flight",
			Help:      "Number of fetches currently holding a concurrency permit.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of page fetches including jitter.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Total number of detail pages by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.Requests, m.InFlight, m.Duration, m.Items)
	return m
}

// FetchStarted 在拿到并发许可后调用。
func (m *Metrics) FetchStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// FetchDone 在释放并发许可前调用。
func (m *Metrics) FetchDone(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Requests.WithLabelValues(outcome).Inc()
	m.Duration.Observe(d.Seconds())
}

// ItemDone 记录一个条目的最终状态（written/incomplete/failed）。
func (m *Metrics) ItemDone(status string) {
	if m == nil {
		return
	}
	m.Items.WithLabelValues(status).Inc()
}

// WriteTextfile 把当前指标以 Prometheus 文本格式写入 path。
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return errors.New("metrics 未启用")
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
