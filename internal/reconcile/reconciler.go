package reconcile

import (
	"context"
	"time"

	"resume-search-go/internal/logger"
	"resume-search-go/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultInterval = 10 * time.Minute // 默认一致性校验间隔
	defaultRunLimit = 500              // 单次运行最多修复的条目数，防止故障时风暴
)

// IndexScanner 向量索引侧的扫描能力
type IndexScanner interface {
	// ScrollPointIDs 返回索引中全部点：pointID -> resumeID
	ScrollPointIDs(ctx context.Context) (map[string]string, error)
	// CountPoints 返回后端报告的精确点数
	CountPoints(ctx context.Context) (int64, error)
	DeletePoints(ctx context.Context, pointIDs []string) error
}

// RecordLister 记录库侧的ID清单能力
type RecordLister interface {
	GetResumeIDs(ctx context.Context) ([]string, error)
}

// IndexEventPublisher 重建索引事件的发布能力
type IndexEventPublisher interface {
	PublishIndexEvent(ctx context.Context, resumeID string, action storage.IndexAction) error
}

// Report 单次一致性校验的结果
type Report struct {
	IndexPoints     int   // 扫描到的索引点数
	BackendCount    int64 // 后端报告的精确点数，与IndexPoints偏差说明扫描期间有并发写入
	StoreRecords    int   // 记录库中的记录数
	DanglingRemoved int // 已删除的悬挂点（索引有、记录库无）
	MissingEnqueued int // 已补发索引事件的缺失记录（记录库有、索引无）
	StartedAt       time.Time
	Elapsed         time.Duration
}

// Reconciler 周期性比对向量索引与记录库，删除悬挂点并为缺失
// 记录补发索引事件。修复动作幂等，重复运行收敛到一致状态。
type Reconciler struct {
	index     IndexScanner
	store     RecordLister
	publisher IndexEventPublisher
	interval  time.Duration
	runLimit  int
	done      chan struct{}
	tracer    trace.Tracer
}

// Option Reconciler构造选项
type Option func(*Reconciler)

// WithInterval 设置校验间隔
func WithInterval(interval time.Duration) Option {
	return func(r *Reconciler) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithRunLimit 设置单次运行的修复上限
func WithRunLimit(limit int) Option {
	return func(r *Reconciler) {
		if limit > 0 {
			r.runLimit = limit
		}
	}
}

// NewReconciler 创建校验器。publisher为nil时缺失记录只统计不补发。
func NewReconciler(index IndexScanner, store RecordLister, publisher IndexEventPublisher, opts ...Option) *Reconciler {
	r := &Reconciler{
		index:     index,
		store:     store,
		publisher: publisher,
		interval:  defaultInterval,
		runLimit:  defaultRunLimit,
		done:      make(chan struct{}),
		tracer:    otel.Tracer("index-reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 启动后台周期校验
func (r *Reconciler) Start() {
	logger.Info().Dur("interval", r.interval).Msg("索引一致性校验器启动")
	ticker := time.NewTicker(r.interval)

	go func() {
		for {
			select {
			case <-r.done:
				ticker.Stop()
				logger.Info().Msg("索引一致性校验器已停止")
				return
			case <-ticker.C:
				if _, err := r.RunOnce(context.Background()); err != nil {
					logger.Error().Err(err).Msg("索引一致性校验失败")
				}
			}
		}
	}()
}

// Stop 停止后台校验
func (r *Reconciler) Stop() {
	close(r.done)
}

// RunOnce 执行一次完整的双向比对与修复
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.RunOnce")
	defer span.End()

	report := &Report{StartedAt: time.Now()}

	// 精确计数失败不阻塞校验，只是报告里少一个交叉核对项
	if count, countErr := r.index.CountPoints(ctx); countErr != nil {
		logger.Warn().Err(countErr).Msg("获取索引点数失败")
	} else {
		report.BackendCount = count
	}

	points, err := r.index.ScrollPointIDs(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report.IndexPoints = len(points)

	recordIDs, err := r.store.GetResumeIDs(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report.StoreRecords = len(recordIDs)

	known := make(map[string]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		known[id] = struct{}{}
	}

	indexed := make(map[string]struct{}, len(points))
	var dangling []string
	for pointID, resumeID := range points {
		indexed[resumeID] = struct{}{}
		if _, ok := known[resumeID]; !ok {
			dangling = append(dangling, pointID)
			if len(dangling) >= r.runLimit {
				break
			}
		}
	}

	if len(dangling) > 0 {
		if err := r.index.DeletePoints(ctx, dangling); err != nil {
			span.RecordError(err)
			logger.Error().Err(err).Int("count", len(dangling)).Msg("删除悬挂索引点失败")
		} else {
			report.DanglingRemoved = len(dangling)
			logger.Warn().Int("count", len(dangling)).Msg("已删除悬挂索引点")
		}
	}

	if r.publisher != nil {
		for _, id := range recordIDs {
			if report.MissingEnqueued >= r.runLimit {
				break
			}
			if _, ok := indexed[id]; ok {
				continue
			}
			if err := r.publisher.PublishIndexEvent(ctx, id, storage.IndexActionUpsert); err != nil {
				logger.Error().Err(err).Str("resume_id", id).Msg("补发索引事件失败")
				continue
			}
			report.MissingEnqueued++
		}
		if report.MissingEnqueued > 0 {
			logger.Info().Int("count", report.MissingEnqueued).Msg("已为缺失记录补发索引事件")
		}
	}

	report.Elapsed = time.Since(report.StartedAt)
	span.SetAttributes(
		attribute.Int("reconcile.index_points", report.IndexPoints),
		attribute.Int64("reconcile.backend_count", report.BackendCount),
		attribute.Int("reconcile.store_records", report.StoreRecords),
		attribute.Int("reconcile.dangling_removed", report.DanglingRemoved),
		attribute.Int("reconcile.missing_enqueued", report.MissingEnqueued),
	)

	logger.Info().
		Int("index_points", report.IndexPoints).
		Int64("backend_count", report.BackendCount).
		Int("store_records", report.StoreRecords).
		Int("dangling_removed", report.DanglingRemoved).
		Int("missing_enqueued", report.MissingEnqueued).
		Dur("elapsed", report.Elapsed).
		Msg("索引一致性校验完成")
	return report, nil
}
