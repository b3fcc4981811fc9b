package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现对账队列。
type RedisQueue struct {
	client redis.UniversalClient
	queue  string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisQueueWithClient(client, cfg.Queue, cfg.BlockWait), nil
}

// NewRedisQueueWithClient 基于已有客户端创建队列。
func NewRedisQueueWithClient(client redis.UniversalClient, queue string, wait time.Duration) *RedisQueue {
	if queue == "" {
		queue = "prophet:reconcile"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}
}

// Publish 将交易哈希投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, hash string) error {
	if err := q.client.LPush(ctx, q.queue, hash).Err(); err != nil {
		return fmt.Errorf("Redis 发布对账任务失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取交易哈希，直到 ctx 结束。
// 连接错误会在短暂退避后重试，不会让工作协程退出。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) || ctx.Err() != nil {
						continue
					}
					select {
					case <-ctx.Done():
					case <-time.After(time.Second):
					}
					continue
				}
				if len(values) != 2 {
					continue
				}
				hash := values[1]
				if handlerErr := handler(ctx, hash); handlerErr != nil && ctx.Err() == nil {
					// 处理失败时放回队尾，下一次 BRPOP 会再次取到。
					_ = q.client.RPush(ctx, q.queue, hash).Err()
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
