package reconcile

import (
	"context"
	"strings"
	"time"

	"Prophet-Chain/internal/config"
	xerrors "Prophet-Chain/internal/errors"
)

// NewQueue 根据配置构建对账队列。
func NewQueue(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		queue, err := NewRedisQueue(ctx, RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 Redis 队列失败")
		}
		return queue, nil
	case "rabbitmq":
		queue, err := NewRabbitMQQueue(RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 RabbitMQ 队列失败")
		}
		return queue, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的队列驱动", xerrors.WithMetadata("driver", cfg.Driver))
	}
}
