package processor

import (
	"context"
	"time"

	"resume-search-go/internal/storage"
	"resume-search-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
)

// Embedder 文本向量化组件，复用 cloudwego/eino 的Embedder契约
type Embedder = embedding.Embedder

// VectorIndex 向量索引客户端的最小依赖面
type VectorIndex interface {
	UpsertResumeVector(ctx context.Context, resumeID string, vector []float64, payload map[string]interface{}) (string, error)
	SearchResumes(ctx context.Context, queryVector []float64, limit int, filter *types.SearchFilter) ([]storage.VectorHit, error)
	FilterResumes(ctx context.Context, filter *types.SearchFilter, limit int) ([]storage.VectorHit, error)
	DeleteResumeVector(ctx context.Context, resumeID string) error
}

// RecordStore 记录库的最小依赖面
type RecordStore interface {
	GetResumeByID(ctx context.Context, id string) (*types.ResumeRecord, error)
}

// SessionCache 搜索会话缓存。实现为可选依赖，nil时搜索直接走索引。
// 锁方法用于缓存未命中时抑制同一查询的并发重复计算。
type SessionCache interface {
	CacheSearchSession(ctx context.Context, queryHash string, results []storage.ScoredID) error
	GetSearchSessionPage(ctx context.Context, queryHash string, offset, limit int64) ([]storage.ScoredID, int64, error)
	AcquireSearchLock(ctx context.Context, queryHash string, expiration time.Duration) (string, error)
	ReleaseSearchLock(ctx context.Context, queryHash string, lockValue string) (bool, error)
}

// SessionInvalidator 搜索会话缓存的整体失效能力。
// 索引内容变化后调用，避免已删除或重建的简历滞留在缓存会话里。
type SessionInvalidator interface {
	InvalidateSearchSessions(ctx context.Context) error
}

// TextExtractor 简历文件文本提取
type TextExtractor interface {
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error)
}
