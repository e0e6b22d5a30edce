package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	rediscommon "github.com/stemlab-dev/idonat/common/redis"
	"github.com/stemlab-dev/idonat/internal/models"
)

// DefaultStreamMaxLen 告警流保留的大致条数
const DefaultStreamMaxLen = 10000

// RedisStreamSink 将告警写入 Redis Stream
type RedisStreamSink struct {
	client *rediscommon.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisStreamSink 创建 Redis Stream 告警下游；maxLen <= 0 不裁剪
func NewRedisStreamSink(client *rediscommon.Client, stream string, maxLen int64, logger *zap.Logger) *RedisStreamSink {
	return &RedisStreamSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish 发布一条告警
func (s *RedisStreamSink) Publish(ctx context.Context, alert models.ShortageAlert) error {
	id, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, s.maxLen, alert)
	if err != nil {
		return fmt.Errorf("failed to publish alert to stream %s: %w", s.stream, err)
	}

	s.logger.Debug("Published shortage alert to stream",
		zap.String("stream", s.stream),
		zap.String("message_id", id),
		zap.String("alert_id", alert.AlertID),
	)
	return nil
}
