package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-search-go/internal/config"
	"resume-search-go/internal/logger"
	"resume-search-go/internal/reconcile"
	"resume-search-go/internal/storage"
	"resume-search-go/internal/tracing"

	"github.com/spf13/pflag"
)

func main() {
	var (
		configPath string
		interval   time.Duration
		runOnce    bool
	)
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "配置文件路径")
	pflag.DurationVar(&interval, "interval", 10*time.Minute, "校验间隔")
	pflag.BoolVar(&runOnce, "once", false, "只执行一次校验后退出")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}
	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化追踪失败")
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("追踪数据冲刷失败")
		}
	}()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()

	if storageManager.Qdrant == nil || storageManager.MySQL == nil {
		logger.Fatal().Msg("一致性校验需要向量索引与记录库均可用")
	}

	var publisher reconcile.IndexEventPublisher
	if storageManager.RabbitMQ != nil {
		publisher = storageManager.RabbitMQ
	}

	reconciler := reconcile.NewReconciler(
		storageManager.Qdrant,
		storageManager.MySQL,
		publisher,
		reconcile.WithInterval(interval),
	)

	if runOnce {
		report, err := reconciler.RunOnce(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("一致性校验失败")
		}
		logger.Info().
			Int("dangling_removed", report.DanglingRemoved).
			Int("missing_enqueued", report.MissingEnqueued).
			Msg("一致性校验完成")
		return
	}

	reconciler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	reconciler.Stop()
}
