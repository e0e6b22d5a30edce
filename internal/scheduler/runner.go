package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job 一次周期任务
type Job func(ctx context.Context)

// Metrics 调度指标
type Metrics interface {
	RunSkipped(job string)
}

// Runner 周期任务：启动时执行一次，之后按 Interval 执行，Trigger 可立即触发
// 同一 Runner 的执行是串行的；配置 Lock 时跨实例互斥
type Runner struct {
	name     string
	interval time.Duration
	job      Job
	lock     Locker
	metrics  Metrics
	logger   *zap.Logger

	trigger chan struct{}
}

// NewRunner 创建周期任务；lock 可为 nil
func NewRunner(name string, interval time.Duration, job Job, lock Locker, logger *zap.Logger) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		job:      job,
		lock:     lock,
		logger:   logger.With(zap.String("job", name)),
		trigger:  make(chan struct{}, 1),
	}
}

// SetMetrics 设置指标
func (r *Runner) SetMetrics(m Metrics) {
	r.metrics = m
}

// Name 任务名
func (r *Runner) Name() string {
	return r.name
}

// Trigger 请求尽快执行一次；已有待执行的触发时合并
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Start 启动任务，阻塞直到 ctx 取消
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Scheduled job started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// 立即执行一次
	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Scheduled job stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.trigger:
			r.runOnce(ctx)
		}
	}
}

// runOnce 获取锁后执行任务
func (r *Runner) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if r.lock != nil {
		unlock, ok, err := r.lock.TryLock(ctx, r.name)
		if err != nil {
			r.logger.Error("Failed to acquire run lock", zap.Error(err))
			return
		}
		if !ok {
			r.logger.Info("Run lock held by another instance, skipping")
			if r.metrics != nil {
				r.metrics.RunSkipped(r.name)
			}
			return
		}
		defer func() {
			// 任务 ctx 可能已取消，释放锁使用独立 ctx
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlock(releaseCtx); err != nil {
				r.logger.Warn("Failed to release run lock", zap.Error(err))
			}
		}()
	}

	r.job(ctx)
}
