package run

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/infra/httpx"
	"github.com/John-Robertt/moviecsv/internal/metrics"
	"github.com/John-Robertt/moviecsv/internal/provider/imdb"
)

const chartPage = `<html><body>
<div data-testid="chart-layout-main-column"><ul>
  <li><a href="/title/ttA/?ref_=chtmvm_t_1">A</a></li>
  <li><a href="/title/ttB/?ref_=chtmvm_t_2">B</a></li>
  <li><a href="/title/ttC/?ref_=chtmvm_t_3">C</a></li>
</ul></div>
</body></html>`

func detailPage(title, date, rating, plot string) string {
	ratingHTML := ""
	if rating != "" {
		ratingHTML = fmt.Sprintf(`<div data-testid="hero-rating-bar__aggregate-rating__score"><span>%s</span><span>/10</span></div>`, rating)
	}
	return fmt.Sprintf(`<html><body>
<h1><span>%s</span></h1>
<a href="/title/x/releaseinfo?ref_=tt_ov_rdat">%s</a>
%s
<p><span data-testid="plot-xs_to_m">%s</span></p>
</body></html>`, title, date, ratingHTML, plot)
}

func TestExecute_EndToEnd_IncompleteItemSkipped(t *testing.T) {
	var gotUA atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/chart/", func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		fmt.Fprint(w, chartPage)
	})
	mux.HandleFunc("/title/ttA/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Alpha", "March 7, 2025", "7.4", "Plot A."))
	})
	mux.HandleFunc("/title/ttB/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Beta, Part 2", "2024", "8.1", `He said "go".`))
	})
	mux.HandleFunc("/title/ttC/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Gamma", "2023", "", "Plot C."))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := httpx.NewClient(httpx.ClientOptions{UserAgent: httpx.DefaultUserAgent, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	m := metrics.New()
	fetcher := &httpx.Fetcher{
		Client:  client,
		Permits: httpx.NewPermits(httpx.DefaultMaxConcurrent),
		Jitter:  httpx.NewJitter(0, 5*time.Millisecond, 1),
		Metrics: m,
	}
	out := filepath.Join(t.TempDir(), "movies.csv")

	rr, err := Execute(context.Background(), Deps{
		Fetcher:  fetcher,
		Provider: imdb.Provider{},
		Metrics:  m,
	}, Options{
		ListingURL: srv.URL + "/chart/",
		BaseURL:    srv.URL,
		Output:     out,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if ua, _ := gotUA.Load().(string); ua != httpx.DefaultUserAgent {
		t.Fatalf("期望 UA=%q，实际=%q", httpx.DefaultUserAgent, ua)
	}
	if rr.Discovered != 3 {
		t.Fatalf("期望发现 3 个条目，实际 %d", rr.Discovered)
	}
	if rr.Summary != (domain.ReportSummary{Written: 2, Incomplete: 1}) {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("打开输出失败：%v", err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("解析 CSV 失败：%v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("期望 1 行表头 + 2 行数据，实际 %d 行：%v", len(recs), recs)
	}
	if fmt.Sprint(recs[0]) != fmt.Sprint(domain.Header) {
		t.Fatalf("首行必须是表头，实际 %v", recs[0])
	}

	rows := map[string][]string{}
	for _, r := range recs[1:] {
		rows[r[0]] = r
	}
	if got := rows["Alpha"]; fmt.Sprint(got) != fmt.Sprint([]string{"Alpha", "March 7, 2025", "7.4/10", "Plot A."}) {
		t.Fatalf("Alpha 行不符合预期：%v", got)
	}
	if got := rows["Beta, Part 2"]; len(got) != 4 || got[3] != `He said "go".` {
		t.Fatalf("Beta 行不符合预期：%v", got)
	}
	if _, ok := rows["Gamma"]; ok {
		t.Fatalf("缺少 rating 的条目不应写入")
	}

	if got := testutil.ToFloat64(m.Requests.WithLabelValues(metrics.OutcomeOK)); got != 4 {
		t.Fatalf("期望 4 次成功请求，实际 %v", got)
	}
	if got := testutil.ToFloat64(m.Items.WithLabelValues(domain.StatusIncomplete)); got != 1 {
		t.Fatalf("期望 1 个 incomplete，实际 %v", got)
	}
}
