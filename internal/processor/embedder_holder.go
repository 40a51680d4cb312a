package processor

import (
	"context"
	"sync"

	"resume-search-go/internal/logger"
)

// EmbedderHolder 延迟初始化的Embedder持有者。
// 首次使用时才建立到embedding服务的连接，并保证并发下只有一个
// goroutine执行初始化，其余等待同一结果。初始化失败不缓存，
// 后续调用会重新尝试。
type EmbedderHolder struct {
	mu       sync.Mutex
	embedder Embedder
	factory  func(ctx context.Context) (Embedder, error)
}

// NewEmbedderHolder 创建持有者，factory在首次Get时被调用
func NewEmbedderHolder(factory func(ctx context.Context) (Embedder, error)) *EmbedderHolder {
	return &EmbedderHolder{factory: factory}
}

// Get 返回已初始化的Embedder，必要时先初始化
func (h *EmbedderHolder) Get(ctx context.Context) (Embedder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.embedder != nil {
		return h.embedder, nil
	}

	embedder, err := h.factory(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("embedding服务初始化失败")
		return nil, NewEmbeddingError(err.Error())
	}

	h.embedder = embedder
	logger.Info().Msg("embedding服务初始化完成")
	return h.embedder, nil
}

// EmbedStrings 便捷方法，先Get再调用
func (h *EmbedderHolder) EmbedStrings(ctx context.Context, texts []string) ([][]float64, error) {
	embedder, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, NewEmbeddingError(err.Error())
	}
	return vectors, nil
}
