package httpx

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent 是全局并发许可的默认容量。
const DefaultMaxConcurrent = 10

// Permits 是进程内共享的并发许可池，限制同时在途的抓取数量。
//
// 约束：
// - Acquire 在许可耗尽时阻塞，这是系统中唯一的背压机制
// - 每次成功的 Acquire 必须恰好对应一次 Release（调用方用 defer 保证）
type Permits struct {
	sem *semaphore.Weighted
	n   int
}

// NewPermits 创建容量为 n 的许可池；n<1 时按 1 处理。
func NewPermits(n int) *Permits {
	if n < 1 {
		n = 1
	}
	return &Permits{sem: semaphore.NewWeighted(int64(n)), n: n}
}

// Acquire 获取一个许可；ctx 取消时返回 ctx.Err() 且不占用许可。
func (p *Permits) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *Permits) Release() { p.sem.Release(1) }

// Cap 返回许可池容量。
func (p *Permits) Cap() int { return p.n }
