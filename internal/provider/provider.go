package provider

import "github.com/John-Robertt/moviecsv/internal/domain"

// Provider 把“站点 HTML 结构”限制在 provider 包内部；核心流程只依赖统一接口与 domain.Fields。
//
// 约束：
// - 不做网络请求（抓取、并发、jitter 由 httpx.Fetcher 统一实现）
// - Discover/Parse 必须是纯函数：相同输入 => 相同输出
// - 找不到预期结构时降级为“空列表/缺失字段”，不返回错误；错误只表示输入本身无法解析
type Provider interface {
	Name() string
	// Discover 从列表页提取详情页链接，相对链接按 baseURL 解析为绝对 URL。
	Discover(listing []byte, baseURL string) ([]string, error)
	// Parse 从详情页提取字段；每个字段独立存在或缺失。
	Parse(detail []byte) (domain.Fields, error)
}
