package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-search-go/internal/api/handler"
	"resume-search-go/internal/api/router"
	"resume-search-go/internal/config"
	"resume-search-go/internal/logger"
	"resume-search-go/internal/parser"
	"resume-search-go/internal/processor"
	"resume-search-go/internal/storage"
	"resume-search-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app/server"
	hlog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzerolog "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "配置文件路径")
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
	hlog.SetLogger(hertzzerolog.From(logger.Logger))
	logger.Info().Str("config", configPath).Msg("配置加载成功")

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
	logger.Info().Msg("存储服务初始化成功")

	// Embedder懒加载：首个需要向量的请求触发初始化，失败后续重试
	embedderHolder := processor.NewEmbedderHolder(func(ctx context.Context) (processor.Embedder, error) {
		return parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding)
	})

	normalizer := processor.NewNormalizer()

	dimension := cfg.Qdrant.Dimension
	var vectorIndex processor.VectorIndex
	if storageManager.Qdrant != nil {
		vectorIndex = storageManager.Qdrant
	}

	var recordStore processor.RecordStore
	var handlerStore handler.RecordStore
	if storageManager.MySQL != nil {
		recordStore = storageManager.MySQL
		handlerStore = storageManager.MySQL
	}

	indexerOpts := []processor.IndexerOption{
		processor.WithBatchWorkers(cfg.Indexing.BatchWorkers),
	}
	if storageManager.Redis != nil {
		indexerOpts = append(indexerOpts, processor.WithSessionInvalidator(storageManager.Redis))
	}
	indexer := processor.NewIndexer(normalizer, embedderHolder, vectorIndex, dimension, indexerOpts...)

	searcherOpts := []processor.SearcherOption{
		processor.WithPageSizes(cfg.Search.DefaultPageSize, cfg.Search.MaxPageSize),
	}
	if cfg.Search.CacheEnabled && storageManager.Redis != nil {
		searcherOpts = append(searcherOpts, processor.WithSessionCache(storageManager.Redis))
	}
	searcher := processor.NewSearcher(normalizer, embedderHolder, vectorIndex, recordStore, dimension, searcherOpts...)

	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("创建PDF提取器失败")
	}

	feedbackGen := processor.NewFeedbackGenerator(cfg.Anthropic)

	var md5Registry handler.MD5Registry
	if storageManager.Redis != nil {
		md5Registry = storageManager.Redis
	}
	var filesStore handler.FileStore
	if storageManager.MinIO != nil {
		filesStore = storageManager.MinIO
	}
	var queue handler.IndexEventPublisher
	if storageManager.RabbitMQ != nil {
		queue = storageManager.RabbitMQ
	}

	searchHandler := handler.NewSearchHandler(cfg, searcher)
	resumeHandler := handler.NewResumeHandler(cfg, handlerStore, filesStore, md5Registry,
		queue, pdfExtractor, indexer, feedbackGen)

	// 索引事件消费者：把RabbitMQ里的索引请求落到向量索引
	if storageManager.RabbitMQ != nil && recordStore != nil {
		if err := startIndexConsumer(cfg, storageManager, recordStore, indexer); err != nil {
			logger.Fatal().Err(err).Msg("启动索引消费者失败")
		}
		logger.Info().Int("workers", cfg.RabbitMQ.ConsumerWorkers).Msg("索引消费者已启动")
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg, searchHandler, resumeHandler)
	logger.Info().Str("address", cfg.Server.Address).Msg("HTTP服务器启动")

	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("接收到终止信号，正在优雅退出")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
	}
	logger.Info().Msg("优雅退出完成")
}

// startIndexConsumer 消费索引事件。消息只带最小载荷，处理时重读记录库，
// 重复投递因此是幂等的。
func startIndexConsumer(cfg *config.Config, storageManager *storage.Storage,
	recordStore processor.RecordStore, indexer *processor.Indexer) error {

	handlerFn := func(body []byte) bool {
		var msg storage.ResumeIndexMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			logger.Error().Err(err).Msg("索引事件反序列化失败，丢弃消息")
			return true // 无法解析的消息重投也无意义
		}

		msgCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		switch msg.Action {
		case storage.IndexActionDelete:
			if err := indexer.DeleteFromIndex(msgCtx, msg.ResumeID); err != nil {
				logger.Error().Err(err).Str("resume_id", msg.ResumeID).Msg("消费删除索引事件失败")
				return false
			}
			return true
		case storage.IndexActionUpsert:
			record, err := recordStore.GetResumeByID(msgCtx, msg.ResumeID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					// 记录已删除，事件作废
					logger.Warn().Str("resume_id", msg.ResumeID).Msg("索引事件指向已删除的记录，丢弃")
					return true
				}
				logger.Error().Err(err).Str("resume_id", msg.ResumeID).Msg("消费索引事件时读取记录失败")
				return false
			}
			if _, err := indexer.IndexResume(msgCtx, record); err != nil {
				logger.Error().Err(err).Str("resume_id", msg.ResumeID).Msg("消费索引事件失败")
				return false
			}
			return true
		default:
			logger.Warn().Str("action", string(msg.Action)).Msg("未知的索引事件类型，丢弃")
			return true
		}
	}

	workers := cfg.RabbitMQ.ConsumerWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		if _, err := storageManager.RabbitMQ.StartConsumer(cfg.RabbitMQ.IndexQueue, cfg.RabbitMQ.PrefetchCount, handlerFn); err != nil {
			return err
		}
	}
	return nil
}
