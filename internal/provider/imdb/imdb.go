package imdb

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/moviecsv/internal/domain"
)

const (
	DefaultBaseURL    = "https://www.imdb.com"
	DefaultListingURL = "https://www.imdb.com/chart/moviemeter/?ref_=nv_mv_mpm"
)

// 页面结构标记。IMDb 改版时只需要改这里。
const (
	selChartColumn = `div[data-testid="chart-layout-main-column"]`
	selTitle       = "h1"
	selReleaseDate = `a[href*="releaseinfo"]`
	selRating      = `div[data-testid="hero-rating-bar__aggregate-rating__score"]`
	selPlot        = `span[data-testid="plot-xs_to_m"]`
)

// Provider 实现 IMDb “最受欢迎电影”列表页与详情页的 HTML 解析。
//
// 约束：
// - 不做网络请求（由 httpx.Fetcher 统一控制）
// - 列表容器缺失时返回空列表，不报错
// - 详情页字段缺失只表示“该字段不存在”
type Provider struct{}

func (Provider) Name() string { return "imdb" }

// Discover 取 chart 主列中每个 <li> 的第一个链接，并按 baseURL 解析为绝对 URL。
func (Provider) Discover(listing []byte, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(listing))
	if err != nil {
		return nil, err
	}

	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = DefaultBaseURL
	}

	col := doc.Find(selChartColumn).First()
	if col.Length() == 0 {
		return []string{}, nil
	}

	out := make([]string, 0, 128)
	col.Find("li").Each(func(_ int, li *goquery.Selection) {
		href, ok := li.Find("a").First().Attr("href")
		if !ok {
			return
		}
		if u := resolveURL(base, href); u != "" {
			out = append(out, u)
		}
	})
	return out, nil
}

// Parse 把详情页 HTML 解析为四个可缺失字段。
func (Provider) Parse(detail []byte) (domain.Fields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(detail))
	if err != nil {
		return domain.Fields{}, err
	}

	return domain.Fields{
		Title:       firstText(doc, selTitle),
		ReleaseDate: firstText(doc, selReleaseDate),
		Rating:      firstText(doc, selRating),
		Plot:        firstText(doc, selPlot),
	}, nil
}

func firstText(doc *goquery.Document, sel string) domain.Field {
	s := doc.Find(sel).First()
	if s.Length() == 0 {
		return domain.Absent()
	}
	return domain.Some(normSpace(s.Text()))
}

// resolveURL 把 href 解析为绝对 URL；无法解析时返回空串（调用方跳过该链接）。
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ru, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return bu.ResolveReference(ru).String()
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
