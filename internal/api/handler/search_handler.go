package handler

import (
	"context"
	"errors"

	"resume-search-go/internal/config"
	"resume-search-go/internal/logger"
	"resume-search-go/internal/processor"
	"resume-search-go/internal/storage"
	"resume-search-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// SearchService 搜索服务的调用面，便于测试替换
type SearchService interface {
	Search(ctx context.Context, query string, filter *types.SearchFilter, page, pageSize int) (*types.SearchResponse, error)
}

// SearchHandler 简历语义搜索接口
type SearchHandler struct {
	cfg      *config.Config
	searcher SearchService
}

// NewSearchHandler 创建搜索处理器
func NewSearchHandler(cfg *config.Config, searcher SearchService) *SearchHandler {
	return &SearchHandler{
		cfg:      cfg,
		searcher: searcher,
	}
}

// SearchAPIRequest POST /api/v1/search 的请求体
type SearchAPIRequest struct {
	SearchQuery string              `json:"searchQuery"`
	Filters     *types.SearchFilter `json:"filters,omitempty"`
	Page        int                 `json:"page,omitempty"`
	PageSize    int                 `json:"pageSize,omitempty"`
}

// HandleSearch 处理搜索请求
// POST /api/v1/search
func (h *SearchHandler) HandleSearch(ctx context.Context, c *app.RequestContext) {
	var req SearchAPIRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{
			"error":      "请求体格式错误",
			"error_type": ErrorTypeInvalidQuery,
		})
		return
	}

	resp, err := h.searcher.Search(ctx, req.SearchQuery, req.Filters, req.Page, req.PageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(consts.StatusOK, resp)
}

// 机器可读的错误分类，区分"服务不可用"与"无匹配结果"
const (
	ErrorTypeInvalidQuery         = "invalid_query"
	ErrorTypeEmbeddingUnavailable = "embedding_unavailable"
	ErrorTypeIndexUnavailable     = "index_unavailable"
	ErrorTypeNotFound             = "not_found"
	ErrorTypeUnauthorized         = "unauthorized"
	ErrorTypeInternal             = "internal"
)

// writeServiceError 按错误分类写入HTTP响应
func writeServiceError(c *app.RequestContext, err error) {
	switch {
	case errors.Is(err, processor.ErrInvalidQuery):
		c.JSON(consts.StatusBadRequest, utils.H{
			"error":      err.Error(),
			"error_type": ErrorTypeInvalidQuery,
		})
	case errors.Is(err, processor.ErrEmbeddingUnavailable):
		c.JSON(consts.StatusInternalServerError, utils.H{
			"error":      err.Error(),
			"error_type": ErrorTypeEmbeddingUnavailable,
		})
	case errors.Is(err, processor.ErrIndexUnavailable), errors.Is(err, storage.ErrIndexUnavailable):
		c.JSON(consts.StatusInternalServerError, utils.H{
			"error":      err.Error(),
			"error_type": ErrorTypeIndexUnavailable,
		})
	case errors.Is(err, processor.ErrResumeNotFound), errors.Is(err, storage.ErrNotFound):
		c.JSON(consts.StatusNotFound, utils.H{
			"error":      err.Error(),
			"error_type": ErrorTypeNotFound,
		})
	default:
		logger.Error().Err(err).Msg("请求处理失败")
		c.JSON(consts.StatusInternalServerError, utils.H{
			"error":      err.Error(),
			"error_type": ErrorTypeInternal,
		})
	}
}
