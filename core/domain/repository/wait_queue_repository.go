package repository

import "context"

// WaitQueueRepository 匹配等待队列仓储
// 队列是进程外共享的有序列表，多个 relay 实例可以共用一条队列。
// RemoveOneByValue 必须是单条原子删除：两个实例同时扫到同一条目时，
// 只有先删成功的那个能认领，后来的删除是无害的空操作。
type WaitQueueRepository interface {
	// Append 追加一条序列化后的排队记录
	Append(ctx context.Context, value string) error

	// RangeAll 按入队顺序返回当前全部原始记录
	RangeAll(ctx context.Context) ([]string, error)

	// RemoveOneByValue 原子地按值删除最多一条记录，返回实际删除数
	RemoveOneByValue(ctx context.Context, value string) (int64, error)
}
