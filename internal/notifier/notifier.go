package notifier

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Notifier 外发通知（短信等），失败只影响单条消息
type Notifier interface {
	Send(ctx context.Context, destination, message string) error
}

// LogNotifier 只记录日志，不实际发送（未配置短信网关时使用）
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send 记录一条待发送消息
func (n *LogNotifier) Send(ctx context.Context, destination, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("Outbound notification",
		zap.String("destination", destination),
		zap.String("message", message),
	)
	return nil
}

// Multi 依次调用所有通知器，汇总错误
type Multi []Notifier

// Send 任一通知器失败都会返回错误，但不会中断其余通知器
func (m Multi) Send(ctx context.Context, destination, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, destination, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
