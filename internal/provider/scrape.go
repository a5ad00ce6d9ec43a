package provider

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/John-Robertt/moviecsv/internal/domain"
)

// Error 是 provider 阶段的可追溯错误。
// 上层可以据此把失败归类为 parse_failed，并写入 report。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "discover" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DiscoverItems 调用 p.Discover，并做最小规范化：
// - 去掉空白项
// - 按首次出现顺序去重（同一部影片在列表页可能出现多个链接）
func DiscoverItems(p Provider, listing []byte, baseURL string) ([]string, error) {
	links, err := p.Discover(listing, baseURL)
	if err != nil {
		return nil, &Error{Provider: p.Name(), Stage: "discover", Err: err}
	}

	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out, nil
}

// ParseFields 调用 p.Parse；错误统一包装为 *Error{Stage:"parse"}。
// 空响应体没有任何字段标记，返回全部缺失的记录而不是错误。
func ParseFields(p Provider, detail []byte) (domain.Fields, error) {
	if len(bytes.TrimSpace(detail)) == 0 {
		return domain.Fields{}, nil
	}
	f, err := p.Parse(detail)
	if err != nil {
		return domain.Fields{}, &Error{Provider: p.Name(), Stage: "parse", Err: err}
	}
	return f, nil
}
