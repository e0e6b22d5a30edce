package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stemlab-dev/idonat/common/database"
	mqttcommon "github.com/stemlab-dev/idonat/common/mqtt"
	rediscommon "github.com/stemlab-dev/idonat/common/redis"
	"github.com/stemlab-dev/idonat/internal/alerts"
	"github.com/stemlab-dev/idonat/internal/config"
	"github.com/stemlab-dev/idonat/internal/httpapi"
	"github.com/stemlab-dev/idonat/internal/matching"
	"github.com/stemlab-dev/idonat/internal/metrics"
	"github.com/stemlab-dev/idonat/internal/notifier"
	"github.com/stemlab-dev/idonat/internal/repository"
	"github.com/stemlab-dev/idonat/internal/schedule"
	"github.com/stemlab-dev/idonat/internal/scheduler"
	"github.com/stemlab-dev/idonat/internal/shortage"
)

const (
	matchingJob = "matching"
	shortageJob = "shortage"

	shutdownTimeout = 10 * time.Second
)

// MatcherService 献血匹配服务：周期匹配 + 短缺巡检 + 管理 API
type MatcherService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	metrics   *metrics.Recorder
	engine    *matching.Engine
	predictor *shortage.Predictor
	sweeper   *shortage.Sweeper
	latest    *alerts.LatestStore

	matchRunner *scheduler.Runner
	sweepRunner *scheduler.Runner
	router      *httpapi.Router
}

// NewMatcherService 连接 Postgres / Redis（以及可选的 MQTT）并组装服务
func NewMatcherService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*MatcherService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化 Redis（运行锁、告警流、最近巡检结果）
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// MQTT 告警发布（可选）
	var mqttClient *mqttcommon.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT)
		if err != nil {
			db.Close()
			redisClient.Close()
			return nil, err
		}
	}

	var publisher alerts.Publisher
	if mqttClient != nil {
		publisher = mqttClient
	}
	s := newMatcherService(cfg, logger, db, redisClient, publisher)
	s.mqttClient = mqttClient
	return s, nil
}

// newMatcherService 基于已建立的连接组装组件；publisher 为 nil 时不发布 MQTT 告警
func newMatcherService(cfg *config.Config, logger *zap.Logger, db *sql.DB, redisClient *redis.Client, publisher alerts.Publisher) *MatcherService {
	recorder := metrics.New()

	// Repository
	donorRepo := repository.NewDonorRepository(db, logger)
	requestRepo := repository.NewRequestRepository(db, logger)
	hospitalRepo := repository.NewHospitalRepository(db, logger)

	// 通知：未启用短信网关时只记录日志
	var out notifier.Notifier = notifier.NewLogNotifier(logger)
	if cfg.SMS.Enabled {
		out = notifier.Multi{out, notifier.NewSMSNotifier(&cfg.SMS, logger)}
	}

	engine := matching.NewEngine(donorRepo, requestRepo, hospitalRepo, out, matching.Options{
		Sufficiency:   cfg.Matching.Sufficiency,
		NotifyTimeout: cfg.Matching.NotifyTimeout,
		Metrics:       recorder,
	}, logger.Named("matching"))

	var source shortage.ScheduleSource = schedule.EmptySource{}
	if cfg.Schedule.BaseURL != "" {
		source = schedule.NewHTTPSource(cfg.Schedule.BaseURL, logger)
	}
	predictor := shortage.NewPredictor(hospitalRepo, requestRepo, source, nil, logger.Named("shortage"))

	// 告警下游
	latest := alerts.NewLatestStore(alerts.NewRedisKVStore(redisClient), cfg.Alerts.LatestKey, 4*cfg.Shortage.Interval, logger)
	sinks := []shortage.AlertSink{
		alerts.NewRedisStreamSink(redisClient, cfg.Alerts.Stream, alerts.DefaultStreamMaxLen, logger),
	}
	if publisher != nil {
		sinks = append(sinks, alerts.NewMQTTSink(publisher, cfg.MQTT.TopicPrefix, logger))
	}
	sweeper := shortage.NewSweeper(predictor, hospitalRepo, out, shortage.SweepOptions{
		Sinks:   sinks,
		Store:   latest,
		Metrics: recorder,
	}, logger.Named("shortage"))

	// 周期任务（跨实例互斥）
	lock := scheduler.NewRedisLock(redisClient, cfg.Lock.KeyPrefix, cfg.Lock.TTL, logger)
	matchRunner := scheduler.NewRunner(matchingJob, cfg.Matching.Interval, func(ctx context.Context) {
		engine.RunMatchingPass(ctx)
	}, lock, logger)
	matchRunner.SetMetrics(recorder)
	sweepRunner := scheduler.NewRunner(shortageJob, cfg.Shortage.Interval, func(ctx context.Context) {
		sweeper.CheckAllForShortages(ctx)
	}, lock, logger)
	sweepRunner.SetMetrics(recorder)

	// 管理 API
	handler := httpapi.NewHandler(httpapi.Deps{
		Requests:  requestRepo,
		Hospitals: hospitalRepo,
		Donors:    donorRepo,
		Predictor: predictor,
		Fulfill:   engine,
		Sweeps:    latest,
		Matching:  matchRunner,
	}, logger.Named("http"))
	router := httpapi.NewRouter(logger)
	router.RegisterRoutes(handler)
	router.RegisterMetrics(recorder.Handler())

	return &MatcherService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		metrics:     recorder,
		engine:      engine,
		predictor:   predictor,
		sweeper:     sweeper,
		latest:      latest,
		matchRunner: matchRunner,
		sweepRunner: sweepRunner,
		router:      router,
	}
}

// Engine 匹配引擎（CLI 单次执行使用）
func (s *MatcherService) Engine() *matching.Engine {
	return s.engine
}

// Predictor 短缺预测器
func (s *MatcherService) Predictor() *shortage.Predictor {
	return s.predictor
}

// Sweeper 短缺巡检
func (s *MatcherService) Sweeper() *shortage.Sweeper {
	return s.sweeper
}

// Handler 管理 API 路由
func (s *MatcherService) Handler() http.Handler {
	return s.router
}

// Start 启动周期任务与管理 API，阻塞直到 ctx 取消或 HTTP 服务出错
func (s *MatcherService) Start(ctx context.Context) error {
	s.logger.Info("Starting matcher service",
		zap.Duration("match_interval", s.config.Matching.Interval),
		zap.Duration("shortage_interval", s.config.Shortage.Interval),
		zap.String("sufficiency", string(s.config.Matching.Sufficiency)),
		zap.Bool("sms_enabled", s.config.SMS.Enabled),
		zap.Bool("mqtt_enabled", s.config.MQTT.Enabled),
		zap.Bool("mqtt_connected", s.mqttClient != nil && s.mqttClient.IsConnected()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.matchRunner.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.sweepRunner.Start(gctx)
		return nil
	})

	server := NewServer(s.config.HTTP.Addr, s.router, s.logger)
	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			s.logger.Warn("Failed to stop HTTP server gracefully", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// Stop 释放连接
func (s *MatcherService) Stop() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}
	s.logger.Info("Matcher service stopped")
}
