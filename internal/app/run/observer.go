package run

import (
	"time"

	"github.com/John-Robertt/moviecsv/internal/domain"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：事件可能来自多个 goroutine。
type Observer interface {
	// OnStart 在 Execute 开始时调用（在抓取列表页之前）。
	OnStart(opts Options)
	// OnPhaseDone 在阶段结束时调用：listing / discover / exec / commit。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某个详情页处理完成时调用（idx 为完成序号，从 1 开始）。
	OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration)
}
