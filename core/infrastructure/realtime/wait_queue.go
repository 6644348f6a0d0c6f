package realtime

import (
	"context"
	"fmt"

	"relay/common/database"
	"relay/core/domain/repository"
)

// RedisWaitQueueRepository Redis list 实现的匹配等待队列
// RPUSH 入队，LRANGE 全量扫描，LREM count=1 原子认领。
// LREM 的原子性是并发匹配的唯一串行化点：同一条目只会被一个搜索者删成功。
type RedisWaitQueueRepository struct {
	redis    *database.RedisManager
	queueKey string
}

// NewRedisWaitQueueRepository 创建 Redis 等待队列仓储
func NewRedisWaitQueueRepository(redis *database.RedisManager, queueKey string) repository.WaitQueueRepository {
	return &RedisWaitQueueRepository{
		redis:    redis,
		queueKey: queueKey,
	}
}

// Append 入队
func (r *RedisWaitQueueRepository) Append(ctx context.Context, value string) error {
	cli, err := r.redis.GetClient()
	if err != nil {
		return err
	}
	if err := cli.RPush(ctx, r.queueKey, value).Err(); err != nil {
		return fmt.Errorf("入队失败: %w", err)
	}
	return nil
}

// RangeAll 按 FIFO 顺序读取全部记录
func (r *RedisWaitQueueRepository) RangeAll(ctx context.Context) ([]string, error) {
	cli, err := r.redis.GetClient()
	if err != nil {
		return nil, err
	}
	values, err := cli.LRange(ctx, r.queueKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取队列失败: %w", err)
	}
	return values, nil
}

// RemoveOneByValue 原子删除最多一条完全匹配的记录
func (r *RedisWaitQueueRepository) RemoveOneByValue(ctx context.Context, value string) (int64, error) {
	cli, err := r.redis.GetClient()
	if err != nil {
		return 0, err
	}
	removed, err := cli.LRem(ctx, r.queueKey, 1, value).Result()
	if err != nil {
		return 0, fmt.Errorf("删除队列记录失败: %w", err)
	}
	return removed, nil
}
