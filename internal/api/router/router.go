package router

import (
	"context"

	"resume-search-go/internal/api/handler"
	"resume-search-go/internal/config"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册API路由。配置了admin_api_key时，
// 写操作路由要求携带匹配的 X-API-Key 请求头。
func RegisterRoutes(h *server.Hertz, cfg *config.Config, searchHandler *handler.SearchHandler, resumeHandler *handler.ResumeHandler) {
	api := h.Group("/api/v1")

	api.POST("/search", searchHandler.HandleSearch)
	api.GET("/resumes", resumeHandler.HandleListResumes)
	api.GET("/resumes/:id", resumeHandler.HandleGetResume)
	api.POST("/resumes/:id/feedback", resumeHandler.HandleResumeFeedback)

	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	mutating := api.Group("")
	if cfg != nil && cfg.Server.AdminAPIKey != "" {
		mutating.Use(adminKeyAuth(cfg.Server.AdminAPIKey))
	}
	mutating.POST("/resumes/upload", resumeHandler.HandleResumeUpload)
	mutating.PUT("/resumes/:id", resumeHandler.HandleUpdateResume)
	mutating.DELETE("/resumes/:id", resumeHandler.HandleDeleteResume)
	mutating.PUT("/resumes/:id/index", resumeHandler.HandleReindexResume)
	mutating.DELETE("/resumes/:id/index", resumeHandler.HandleRemoveFromIndex)
}

// adminKeyAuth 写操作的API key校验中间件。key缺失或不匹配统一返回401。
func adminKeyAuth(apiKey string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:X-API-Key", ""),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			return key == apiKey, nil
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{
				"error":      "API key缺失或无效",
				"error_type": handler.ErrorTypeUnauthorized,
			})
		}),
	)
}
