package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"resume-search-go/internal/constants"
	"resume-search-go/internal/logger"
	"resume-search-go/internal/types"
)

// Indexer 索引服务。负责把简历记录变成向量并写入向量索引，
// 同一简历的并发索引请求被per-id锁串行化，末次写入胜出。
type Indexer struct {
	normalizer *Normalizer
	embedder   *EmbedderHolder
	index      VectorIndex
	sessions   SessionInvalidator
	dimension  int

	// per-id锁表
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	batchWorkers int
}

// IndexerOption Indexer构造选项
type IndexerOption func(*Indexer)

// WithBatchWorkers 设置批量索引的并发worker数
func WithBatchWorkers(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchWorkers = n
		}
	}
}

// WithSessionInvalidator 索引内容变化后失效搜索会话缓存
func WithSessionInvalidator(sessions SessionInvalidator) IndexerOption {
	return func(idx *Indexer) {
		idx.sessions = sessions
	}
}

// NewIndexer 创建索引服务
func NewIndexer(normalizer *Normalizer, embedder *EmbedderHolder, index VectorIndex, dimension int, opts ...IndexerOption) *Indexer {
	if dimension <= 0 {
		dimension = constants.DefaultIndexDimension
	}
	idx := &Indexer{
		normalizer:   normalizer,
		embedder:     embedder,
		index:        index,
		dimension:    dimension,
		locks:        make(map[string]*sync.Mutex),
		batchWorkers: constants.DefaultBatchWorkers,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// PadVector 把向量调整到索引维度D: 不足补零，超出截断。
// 返回的切片长度恒等于dimension。
func PadVector(vector []float64, dimension int) []float64 {
	if len(vector) == dimension {
		return vector
	}
	adjusted := make([]float64, dimension)
	copy(adjusted, vector)
	return adjusted
}

// lockFor 返回指定简历ID的互斥锁
func (idx *Indexer) lockFor(resumeID string) *sync.Mutex {
	idx.locksMu.Lock()
	defer idx.locksMu.Unlock()
	mu, ok := idx.locks[resumeID]
	if !ok {
		mu = &sync.Mutex{}
		idx.locks[resumeID] = mu
	}
	return mu
}

// IndexResume 索引一条简历: 规范化 -> 向量化 -> 调整到维度D -> 幂等upsert。
// 返回向量索引中的点ID。
func (idx *Indexer) IndexResume(ctx context.Context, record *types.ResumeRecord) (string, error) {
	if record == nil || record.ID == "" {
		return "", NewInvalidQueryError("简历记录或ID为空")
	}
	if idx.index == nil {
		return "", NewIndexError(record.ID, "向量索引未配置")
	}

	mu := idx.lockFor(record.ID)
	mu.Lock()
	defer mu.Unlock()

	document := idx.normalizer.NormalizeRecord(record)
	if document == "" {
		return "", NewExtractionError(record.ID, "简历无可索引文本")
	}

	start := time.Now()
	vectors, err := idx.embedder.EmbedStrings(ctx, []string{document})
	if err != nil {
		return "", err
	}
	if len(vectors) == 0 {
		return "", NewEmbeddingError("embedding服务返回空结果")
	}

	vector := PadVector(vectors[0], idx.dimension)

	pointID, err := idx.index.UpsertResumeVector(ctx, record.ID, vector, buildIndexPayload(record))
	if err != nil {
		return "", NewIndexError(record.ID, err.Error())
	}

	logger.Info().
		Str("resume_id", record.ID).
		Str("point_id", pointID).
		Int("document_length", len(document)).
		Dur("elapsed", time.Since(start)).
		Msg("简历已写入向量索引")

	idx.invalidateSessions(ctx, record.ID)
	return pointID, nil
}

// DeleteFromIndex 将简历移出索引，点不存在同样成功（幂等）
func (idx *Indexer) DeleteFromIndex(ctx context.Context, resumeID string) error {
	if resumeID == "" {
		return NewInvalidQueryError("简历ID为空")
	}
	if idx.index == nil {
		return NewIndexError(resumeID, "向量索引未配置")
	}

	mu := idx.lockFor(resumeID)
	mu.Lock()
	defer mu.Unlock()

	if err := idx.index.DeleteResumeVector(ctx, resumeID); err != nil {
		return NewIndexError(resumeID, err.Error())
	}

	logger.Info().Str("resume_id", resumeID).Msg("简历已移出向量索引")
	idx.invalidateSessions(ctx, resumeID)
	return nil
}

// invalidateSessions 索引变更后作废搜索会话缓存，失败只记录日志：
// 缓存会话有TTL兜底，过期后自然收敛。
func (idx *Indexer) invalidateSessions(ctx context.Context, resumeID string) {
	if idx.sessions == nil {
		return
	}
	if err := idx.sessions.InvalidateSearchSessions(ctx); err != nil {
		logger.Warn().Err(err).Str("resume_id", resumeID).Msg("失效搜索会话缓存失败")
	}
}

// BatchResult 批量索引中单条记录的结果
type BatchResult struct {
	ResumeID string
	PointID  string
	Err      error
}

// IndexBatch 并发索引一批简历，worker数有上界。
// 单条失败不中断整批，结果按输入顺序返回。
func (idx *Indexer) IndexBatch(ctx context.Context, records []*types.ResumeRecord) []BatchResult {
	results := make([]BatchResult, len(records))
	if len(records) == 0 {
		return results
	}

	workers := idx.batchWorkers
	if workers > len(records) {
		workers = len(records)
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, record := range records {
		wg.Add(1)
		go func(i int, record *types.ResumeRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if record == nil {
				results[i] = BatchResult{Err: fmt.Errorf("第%d条记录为空", i)}
				return
			}

			pointID, err := idx.IndexResume(ctx, record)
			results[i] = BatchResult{ResumeID: record.ID, PointID: pointID, Err: err}
		}(i, record)
	}

	wg.Wait()
	return results
}

// buildIndexPayload 构造随向量存储的过滤与摘要元数据。
// 时间戳一并入库，降级的metadata_only结果也能带上。
func buildIndexPayload(record *types.ResumeRecord) map[string]interface{} {
	payload := map[string]interface{}{
		"title":            record.Title,
		"role":             record.Role,
		"experience_level": string(record.ExperienceLevel),
		"is_public":        record.IsPublic,
		"created_at":       record.CreatedAt,
		"updated_at":       record.UpdatedAt,
	}
	if record.Author != "" {
		payload["author"] = record.Author
	}
	if record.YearsExperience > 0 {
		payload["years_experience"] = record.YearsExperience
	}
	if len(record.Skills) > 0 {
		payload["skills"] = record.Skills
	}
	if len(record.Companies) > 0 {
		payload["companies"] = record.Companies
	}
	if record.Education != "" {
		payload["education"] = record.Education
	}
	if record.EducationLevel != "" {
		payload["education_level"] = string(record.EducationLevel)
	}
	if record.Content != "" {
		payload["content_preview"] = TruncateAtWord(record.Content, constants.ContentPreviewLength)
	}
	return payload
}
