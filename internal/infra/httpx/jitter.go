package httpx

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// DefaultJitterMax 是请求前随机延迟的默认上界（不含）。
const DefaultJitterMax = 200 * time.Millisecond

// Jitter 在每次请求前生成 [Min, Max) 内均匀分布的随机延迟，避免请求同步成突发。
//
// 并发安全：多个抓取 goroutine 共享同一个 Jitter。
type Jitter struct {
	Min time.Duration
	Max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitter 创建 [min, max) 的 jitter；seed=0 时使用当前时间。
func NewJitter(min, max time.Duration, seed int64) *Jitter {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Jitter{Min: min, Max: max, rnd: rand.New(rand.NewSource(seed))}
}

// Next 返回下一次延迟。Max<=Min 时固定返回 Min（Min<0 按 0 处理）。
func (j *Jitter) Next() time.Duration {
	lo := j.Min
	if lo < 0 {
		lo = 0
	}
	span := j.Max - lo
	if span <= 0 {
		return lo
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rnd == nil {
		j.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return lo + time.Duration(j.rnd.Int63n(int64(span)))
}

// Sleep 等待一次 Next() 的时长；ctx 取消时提前返回 ctx.Err()。
func (j *Jitter) Sleep(ctx context.Context) error {
	d := j.Next()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
