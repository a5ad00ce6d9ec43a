package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/moviecsv/internal/app/run"
	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
)

func TestProgressUI_ItemLines(t *testing.T) {
	var buf bytes.Buffer
	ui := newProgressUI(&buf, config.EffectiveConfig{Concurrency: 10, Provider: "imdb"})
	defer ui.Stop()

	ui.OnStart(run.Options{RunID: "r1", ListingURL: "https://www.imdb.com/chart/moviemeter/", Output: "/tmp/movies.csv"})
	ui.OnPhaseDone("discover", map[string]any{"items": 3}, time.Second)
	ui.OnItemDone(1, 3, domain.ItemResult{URL: "u1", Title: "Alpha", Status: domain.StatusWritten}, time.Second)
	ui.OnItemDone(2, 3, domain.ItemResult{URL: "u2", Status: domain.StatusIncomplete, Missing: []string{"rating", "plot"}}, time.Second)
	ui.OnItemDone(3, 3, domain.ItemResult{URL: "u3", Status: domain.StatusFailed, ErrorCode: domain.ErrCodeFetchFailed, ErrorMsg: "HTTP 503"}, time.Second)

	out := buf.String()
	for _, want := range []string{
		"moviecsv run r1",
		"concurrency: 10",
		"发现: items=3",
		"[1/3] OK u1 Alpha",
		"[2/3] SKIP u2 missing=rating,plot",
		"[3/3] FAIL u3 fetch_failed: HTTP 503",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
	if ui.tickerStarted {
		t.Fatalf("最后一条完成后 ticker 应已停止")
	}
}

func TestTruncate_RuneSafe(t *testing.T) {
	got := truncate("千与千寻的神隐", 5)
	if got != "千与..." {
		t.Fatalf("期望 %q，实际 %q", "千与...", got)
	}
	if truncate("short", 10) != "short" {
		t.Fatalf("短字符串不应截断")
	}
}

func TestFormatProxy(t *testing.T) {
	if got := formatProxy(""); got != "off" {
		t.Fatalf("期望 off，实际 %q", got)
	}
	if got := formatProxy("http://u:p@127.0.0.1:7890"); got != "on (http://127.0.0.1:7890, auth=on)" {
		t.Fatalf("代理展示不符合预期：%q", got)
	}
}
