package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stemlab-dev/idonat/internal/models"
)

const namespace = "idonat"

// Recorder 匹配与短缺巡检的 Prometheus 指标
type Recorder struct {
	registry *prometheus.Registry

	passes               *prometheus.CounterVec
	passDuration         prometheus.Histogram
	attemptsCreated      prometheus.Counter
	notificationFailures prometheus.Counter
	requestFailures      *prometheus.CounterVec
	expired              prometheus.Counter

	sweeps        prometheus.Counter
	sweepDuration prometheus.Histogram
	alerts        *prometheus.CounterVec

	runsSkipped *prometheus.CounterVec
}

// New 创建指标并注册到独立的 registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "passes_total",
			Help:      "Matching passes by outcome (completed, skipped).",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "pass_duration_seconds",
			Help:      "Duration of completed matching passes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		attemptsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "attempts_created_total",
			Help:      "Match attempts appended to requests.",
		}),
		notificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "notification_failures_total",
			Help:      "Donor notifications that failed or timed out.",
		}),
		requestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "request_failures_total",
			Help:      "Requests skipped during a pass by reason (error, conflict).",
		}, []string{"reason"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "requests_expired_total",
			Help:      "Pending requests moved to expired.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shortage",
			Name:      "sweeps_total",
			Help:      "Completed shortage sweeps.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "shortage",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of shortage sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shortage",
			Name:      "alerts_total",
			Help:      "Shortage alerts raised by severity.",
		}, []string{"severity"}),
		runsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_skipped_total",
			Help:      "Scheduled runs skipped because another instance holds the lock.",
		}, []string{"job"}),
	}

	reg.MustRegister(
		r.passes,
		r.passDuration,
		r.attemptsCreated,
		r.notificationFailures,
		r.requestFailures,
		r.expired,
		r.sweeps,
		r.sweepDuration,
		r.alerts,
		r.runsSkipped,
	)
	return r
}

// Registry 返回底层 registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler /metrics 处理器
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// PassCompleted 记录一次完成的匹配轮次
func (r *Recorder) PassCompleted(d time.Duration, attempts, notificationFailures, requestFailures, conflicts int, expired int64) {
	r.passes.WithLabelValues("completed").Inc()
	r.passDuration.Observe(d.Seconds())
	r.attemptsCreated.Add(float64(attempts))
	r.notificationFailures.Add(float64(notificationFailures))
	r.requestFailures.WithLabelValues("error").Add(float64(requestFailures))
	r.requestFailures.WithLabelValues("conflict").Add(float64(conflicts))
	r.expired.Add(float64(expired))
}

// PassSkipped 上一轮尚未结束，本轮跳过
func (r *Recorder) PassSkipped() {
	r.passes.WithLabelValues("skipped").Inc()
}

// SweepCompleted 记录一次短缺巡检
func (r *Recorder) SweepCompleted(d time.Duration, alerts []models.ShortageAlert) {
	r.sweeps.Inc()
	r.sweepDuration.Observe(d.Seconds())
	for _, a := range alerts {
		r.alerts.WithLabelValues(a.Severity.String()).Inc()
	}
}

// RunSkipped 分布式锁未获取到
func (r *Recorder) RunSkipped(job string) {
	r.runsSkipped.WithLabelValues(job).Inc()
}
