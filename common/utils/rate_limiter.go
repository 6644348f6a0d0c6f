package utils

import (
	"time"

	"relay/common/cache"
)

// hitRecord 单个连接的计数窗口
// 同一个连接的事件只会由一个 worker 协程处理，因此这里不需要加锁
type hitRecord struct {
	count       int
	windowStart time.Time
}

// HitLimiter 连接级事件限流器
// 窗口重置语义：窗口过期后计数和窗口起点一起清零，而不是滑动衰减。
// 记录放在带 TTL 的本地缓存里，连接断开后记录自动过期，不需要显式清理。
type HitLimiter struct {
	limit   int
	window  time.Duration
	records *cache.GeneralCache
}

// NewHitLimiter 创建限流器
// limit: 一个窗口内允许的事件数
// window: 窗口长度
func NewHitLimiter(limit int, window time.Duration) (*HitLimiter, error) {
	records, err := cache.NewGeneralCache(1<<24, 2*window)
	if err != nil {
		return nil, err
	}
	return &HitLimiter{
		limit:   limit,
		window:  window,
		records: records,
	}, nil
}

// Allow 判断该连接当前事件是否允许通过
func (l *HitLimiter) Allow(connID string) bool {
	now := time.Now()

	value, ok := l.records.Get(connID)
	if !ok {
		rec := &hitRecord{count: 1, windowStart: now}
		l.records.Set(connID, rec)
		// ristretto 的写入是异步的，立刻 Wait 保证下一个事件能读到记录
		l.records.Wait()
		return l.limit >= 1
	}

	rec := value.(*hitRecord)
	if now.Sub(rec.windowStart) > l.window {
		rec.count = 0
		rec.windowStart = now
		// 重新 Set 刷新 TTL，保证记录不会在窗口中途过期
		l.records.Set(connID, rec)
		l.records.Wait()
	}

	rec.count++
	return rec.count <= l.limit
}

// Close 释放底层缓存
func (l *HitLimiter) Close() {
	l.records.Close()
}
