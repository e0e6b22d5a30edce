package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker 跨实例的运行锁
type Locker interface {
	// TryLock 获取锁；ok=false 表示锁被其他实例持有
	TryLock(ctx context.Context, name string) (unlock func(context.Context) error, ok bool, err error)
}

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 基于 SET NX PX 的运行锁，持有者 token 为 uuid
type RedisLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLock 创建 Redis 运行锁
func NewRedisLock(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// TryLock 尝试获取锁，不等待
func (l *RedisLock) TryLock(ctx context.Context, name string) (func(context.Context) error, bool, error) {
	key := l.prefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		released, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		if released == 0 {
			l.logger.Warn("Lock expired before release",
				zap.String("key", key),
				zap.Duration("ttl", l.ttl),
			)
		}
		return nil
	}
	return unlock, true, nil
}
