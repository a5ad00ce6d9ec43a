package domain

import "strings"

// Header 是输出 CSV 的表头（顺序即列顺序，也是 Fields.Row 的顺序）。
var Header = []string{"title", "release_date", "rating", "plot"}

// Field 表示一个可缺失的字段。Present=false 时 Value 无意义。
type Field struct {
	Value   string
	Present bool
}

// Some 返回一个字段值；空白文本视为缺失（与“找到标签但内容为空”同等对待）。
func Some(v string) Field {
	v = strings.TrimSpace(v)
	if v == "" {
		return Field{}
	}
	return Field{Value: v, Present: true}
}

// Absent 返回缺失字段。
func Absent() Field { return Field{} }

// Fields 是详情页解析结果（四个字段各自独立存在或缺失）。
//
// 约束：
// - 只有 Complete() 为 true 的记录才允许写入 sink（不写半行）
// - 来源 URL 不属于记录本身，由上层 ItemResult 追溯
type Fields struct {
	Title       Field
	ReleaseDate Field
	Rating      Field
	Plot        Field
}

// Complete 报告四个字段是否全部存在。
func (f Fields) Complete() bool {
	return f.Title.Present && f.ReleaseDate.Present && f.Rating.Present && f.Plot.Present
}

// Missing 按表头顺序返回缺失字段名（仅用于诊断）。
func (f Fields) Missing() []string {
	out := make([]string, 0, len(Header))
	for i, fd := range f.ordered() {
		if !fd.Present {
			out = append(out, Header[i])
		}
	}
	return out
}

// Row 按表头顺序返回一行 CSV 值。
func (f Fields) Row() []string {
	fs := f.ordered()
	row := make([]string, len(fs))
	for i, fd := range fs {
		row[i] = fd.Value
	}
	return row
}

func (f Fields) ordered() [4]Field {
	return [4]Field{f.Title, f.ReleaseDate, f.Rating, f.Plot}
}
