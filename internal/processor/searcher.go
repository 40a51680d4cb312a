package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"resume-search-go/internal/constants"
	"resume-search-go/internal/logger"
	"resume-search-go/internal/storage"
	"resume-search-go/internal/types"
)

// searchLockTTL 查询级锁的过期时间，覆盖一次embedding加索引查询的耗时上限
const searchLockTTL = 10 * time.Second

// Searcher 搜索服务。查询规范化与语料侧对称，结果经记录库补全；
// 记录库不可达时降级为仅返回索引内元数据。
type Searcher struct {
	normalizer *Normalizer
	embedder   *EmbedderHolder
	index      VectorIndex
	store      RecordStore
	cache      SessionCache
	dimension  int

	defaultPageSize int
	maxPageSize     int
}

// SearcherOption Searcher构造选项
type SearcherOption func(*Searcher)

// WithSessionCache 启用搜索会话缓存
func WithSessionCache(cache SessionCache) SearcherOption {
	return func(s *Searcher) {
		s.cache = cache
	}
}

// WithPageSizes 设置默认与最大分页大小
func WithPageSizes(defaultSize, maxSize int) SearcherOption {
	return func(s *Searcher) {
		if defaultSize > 0 {
			s.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			s.maxPageSize = maxSize
		}
	}
}

// NewSearcher 创建搜索服务。store可以为nil，此时所有结果均为降级的metadata_only。
func NewSearcher(normalizer *Normalizer, embedder *EmbedderHolder, index VectorIndex, store RecordStore, dimension int, opts ...SearcherOption) *Searcher {
	if dimension <= 0 {
		dimension = constants.DefaultIndexDimension
	}
	s := &Searcher{
		normalizer:      normalizer,
		embedder:        embedder,
		index:           index,
		store:           store,
		dimension:       dimension,
		defaultPageSize: constants.DefaultPageSize,
		maxPageSize:     100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search 执行语义搜索。查询文本与过滤器至少要有一个：文本为空但过滤器
// 非空时走纯过滤检索，两者都为空返回 ErrInvalidQuery。校验在任何网络
// 调用之前完成。
func (s *Searcher) Search(ctx context.Context, query string, filter *types.SearchFilter, page, pageSize int) (*types.SearchResponse, error) {
	normalized, err := s.normalizer.ProcessQuery(query)
	if err != nil {
		if filter.IsEmpty() {
			return nil, err
		}
		normalized = "" // 纯过滤检索
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	queryHash := s.queryHashFor(normalized, filter)
	offset := (page - 1) * pageSize

	// 先查会话缓存，命中则直接在黄金结果集内切片
	if s.cache != nil {
		cached, total, cacheErr := s.cache.GetSearchSessionPage(ctx, queryHash, int64(offset), int64(pageSize))
		if cacheErr != nil {
			logger.Warn().Err(cacheErr).Str("query_hash", queryHash).Msg("读取搜索会话缓存失败，回退到索引查询")
		} else if total > 0 {
			results, degraded := s.hydrateResults(ctx, cached)
			return &types.SearchResponse{
				Results:      results,
				Page:         page,
				PageSize:     pageSize,
				TotalResults: int(total),
				TotalPages:   types.TotalPagesFor(int(total), pageSize),
				Degraded:     degraded,
			}, nil
		}

		// 未命中：抢查询级锁，抑制同一会话的并发重复计算。
		// 抢不到锁不阻塞，重复算一次结果仍然正确。
		if lockValue, lockErr := s.cache.AcquireSearchLock(ctx, queryHash, searchLockTTL); lockErr != nil {
			logger.Warn().Err(lockErr).Str("query_hash", queryHash).Msg("获取搜索查询锁失败")
		} else if lockValue != "" {
			defer func() {
				if _, releaseErr := s.cache.ReleaseSearchLock(ctx, queryHash, lockValue); releaseErr != nil {
					logger.Warn().Err(releaseErr).Str("query_hash", queryHash).Msg("释放搜索查询锁失败")
				}
			}()
		}
	}

	if s.index == nil {
		return nil, NewIndexError("", "向量索引未配置")
	}

	// 取到当前页末尾为止的全部命中，再在本地切片
	limit := page * pageSize
	if limit > constants.MaxTopK {
		limit = constants.MaxTopK
	}

	var hits []storage.VectorHit
	if normalized == "" {
		hits, err = s.index.FilterResumes(ctx, filter, limit)
		if err != nil {
			return nil, NewIndexError("", err.Error())
		}
	} else {
		vectors, embedErr := s.embedder.EmbedStrings(ctx, []string{normalized})
		if embedErr != nil {
			return nil, embedErr
		}
		if len(vectors) == 0 {
			return nil, NewEmbeddingError("embedding服务返回空结果")
		}
		queryVector := PadVector(vectors[0], s.dimension)

		hits, err = s.index.SearchResumes(ctx, queryVector, limit, filter)
		if err != nil {
			return nil, NewIndexError("", err.Error())
		}
	}

	// 分数降序为硬性约定，防御性排序
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	scored := make([]storage.ScoredID, 0, len(hits))
	for _, hit := range hits {
		scored = append(scored, storage.ScoredID{
			ID:      resumeIDOf(hit),
			Score:   hit.Score,
			Payload: hit.Payload,
		})
	}

	// 缓存整个会话的黄金结果集，连同索引侧payload快照
	if s.cache != nil && len(scored) > 0 {
		if cacheErr := s.cache.CacheSearchSession(ctx, queryHash, scored); cacheErr != nil {
			logger.Warn().Err(cacheErr).Str("query_hash", queryHash).Msg("写入搜索会话缓存失败")
		}
	}

	totalResults := len(scored)

	// 本页切片
	var scoredPage []storage.ScoredID
	if offset < len(scored) {
		end := offset + pageSize
		if end > len(scored) {
			end = len(scored)
		}
		scoredPage = scored[offset:end]
	}

	results, degraded := s.hydrateResults(ctx, scoredPage)

	return &types.SearchResponse{
		Results:      results,
		Page:         page,
		PageSize:     pageSize,
		TotalResults: totalResults,
		TotalPages:   types.TotalPagesFor(totalResults, pageSize),
		Degraded:     degraded,
	}, nil
}

// queryHashFor 计算搜索会话键。同一规范化查询与过滤器组合命中同一会话。
func (s *Searcher) queryHashFor(normalizedQuery string, filter *types.SearchFilter) string {
	filterJSON := ""
	if filter != nil && !filter.IsEmpty() {
		if data, err := json.Marshal(filter); err == nil {
			filterJSON = string(data)
		}
	}
	return storage.QueryHash(normalizedQuery, filterJSON)
}

// hydrateResults 按ID回读记录库补全结果。单条失败降级为metadata_only，
// 元数据来自命中时的索引侧payload快照；整页补全全部失败（且非记录
// 不存在）视为记录库不可达，Degraded置位。
func (s *Searcher) hydrateResults(ctx context.Context, scored []storage.ScoredID) ([]types.SearchResult, bool) {
	results := make([]types.SearchResult, 0, len(scored))
	storeFailures := 0
	attempted := 0

	for _, sc := range scored {
		result := types.SearchResult{
			ID:       sc.ID,
			Score:    sc.Score,
			Source:   types.SourceMetadataOnly,
			Metadata: sc.Payload,
		}

		if s.store != nil && sc.ID != "" {
			attempted++
			record, err := s.store.GetResumeByID(ctx, sc.ID)
			switch {
			case err == nil:
				result.Source = types.SourceHydrated
				result.Record = record
			case errors.Is(err, storage.ErrNotFound):
				// 索引里有点但记录库没有，悬挂引用，交给一致性校验任务处理
				logger.Warn().Str("resume_id", sc.ID).Msg("搜索命中悬挂引用，返回降级结果")
			default:
				storeFailures++
				logger.Warn().Err(err).Str("resume_id", sc.ID).Msg("补全简历记录失败，返回降级结果")
			}
		}

		results = append(results, result)
	}

	// 尝试过补全但无一成功且均为存储错误时，判定记录库整体不可达
	degraded := s.store == nil || (attempted > 0 && storeFailures == attempted)
	return results, degraded
}

// resumeIDOf 从命中点提取简历ID。payload缺失resume_id时退回点ID。
func resumeIDOf(hit storage.VectorHit) string {
	if hit.Payload != nil {
		if id, ok := hit.Payload["resume_id"].(string); ok && id != "" {
			return id
		}
	}
	return hit.ID
}
