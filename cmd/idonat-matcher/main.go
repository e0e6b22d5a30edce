package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	logpkg "github.com/stemlab-dev/idonat/common/logger"
	"github.com/stemlab-dev/idonat/internal/config"
	"github.com/stemlab-dev/idonat/internal/models"
	"github.com/stemlab-dev/idonat/internal/report"
	"github.com/stemlab-dev/idonat/internal/service"
)

const serviceName = "idonat-matcher"

func main() {
	app := &cli.App{
		Name:  serviceName,
		Usage: "Blood donor matching and shortage prediction service",
		Commands: []*cli.Command{
			serveCmd,
			matchCmd,
			predictCmd,
			sweepCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Run periodic matching, shortage sweeps and the admin API",
	Action: func(c *cli.Context) error {
		return withService(c.Context, func(ctx context.Context, s *service.MatcherService, logger *zap.Logger) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			// 启动服务（在 goroutine 中）
			serviceErrChan := make(chan error, 1)
			go func() {
				serviceErrChan <- s.Start(ctx)
			}()

			// 等待信号（优雅关闭）
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigChan:
				logger.Info("Received signal, shutting down",
					zap.String("signal", sig.String()),
				)
				cancel()
				return <-serviceErrChan
			case err := <-serviceErrChan:
				return err
			}
		})
	},
}

var matchCmd = &cli.Command{
	Name:  "match",
	Usage: "Run one matching pass and print its result",
	Action: func(c *cli.Context) error {
		return withService(c.Context, func(ctx context.Context, s *service.MatcherService, logger *zap.Logger) error {
			return printJSON(s.Engine().RunMatchingPass(ctx))
		})
	},
}

var predictCmd = &cli.Command{
	Name:  "predict",
	Usage: "Predict shortage for one hospital and blood type",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "hospital",
			Required: true,
			Usage:    "hospital id",
		},
		&cli.StringFlag{
			Name:     "blood-type",
			Required: true,
			Usage:    "blood type (A+, A-, B+, B-, AB+, AB-, O+, O-)",
		},
	},
	Action: func(c *cli.Context) error {
		bloodType := models.BloodType(c.String("blood-type"))
		if !bloodType.Valid() {
			return fmt.Errorf("invalid blood type %q", bloodType)
		}
		hospitalID := c.String("hospital")
		return withService(c.Context, func(ctx context.Context, s *service.MatcherService, logger *zap.Logger) error {
			pred, err := s.Predictor().Predict(ctx, hospitalID, bloodType)
			if err != nil {
				return err
			}
			return printJSON(pred)
		})
	},
}

var sweepCmd = &cli.Command{
	Name:  "sweep",
	Usage: "Run one shortage sweep and print the alerts raised",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "xlsx",
			Usage: "also write the alerts to this xlsx file",
		},
	},
	Action: func(c *cli.Context) error {
		xlsxPath := c.String("xlsx")
		return withService(c.Context, func(ctx context.Context, s *service.MatcherService, logger *zap.Logger) error {
			alerts := s.Sweeper().CheckAllForShortages(ctx)
			if xlsxPath != "" {
				data, err := report.ShortageWorkbook(nil, alerts)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", xlsxPath, err)
				}
				logger.Info("Shortage report written",
					zap.String("path", xlsxPath),
					zap.Int("alerts", len(alerts)),
				)
			}
			return printJSON(alerts)
		})
	},
}

// withService 加载配置、初始化日志并创建服务，fn 返回后释放连接
func withService(ctx context.Context, fn func(ctx context.Context, s *service.MatcherService, logger *zap.Logger) error) error {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. 初始化日志
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	// 3. 创建服务
	s, err := service.NewMatcherService(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create matcher service", zap.Error(err))
		return err
	}
	defer s.Stop()

	return fn(ctx, s, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
