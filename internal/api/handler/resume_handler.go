package handler

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"resume-search-go/internal/config"
	"resume-search-go/internal/logger"
	"resume-search-go/internal/storage"
	"resume-search-go/internal/storage/models"
	"resume-search-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
)

// RecordStore 记录库的调用面
type RecordStore interface {
	CreateResume(ctx context.Context, record *types.ResumeRecord) error
	GetResumeByID(ctx context.Context, id string) (*types.ResumeRecord, error)
	UpdateResume(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteResume(ctx context.Context, id string) error
	ListResumes(ctx context.Context, offset, limit int) ([]*types.ResumeRecord, int64, error)
	GetResumeIDByContentMD5(ctx context.Context, md5Hex string) (string, error)
}

// FileStore 简历文件存储的调用面
type FileStore interface {
	UploadResumeFileStreaming(ctx context.Context, resumeID, fileExt string, reader io.Reader, fileSize int64) (string, string, error)
	GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	DeleteResumeFile(ctx context.Context, objectKey string) error
}

// MD5Registry 文件MD5去重登记表
type MD5Registry interface {
	CheckAndSetFileMD5(ctx context.Context, md5Hex string, resumeID string) (bool, string, error)
	RemoveFileMD5(ctx context.Context, md5Hex string) error
}

// IndexEventPublisher 异步索引事件发布
type IndexEventPublisher interface {
	PublishIndexEvent(ctx context.Context, resumeID string, action storage.IndexAction) error
}

// TextExtractor 简历文件文本提取
type TextExtractor interface {
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error)
}

// IndexService 同步索引能力，队列未配置时的回退路径
type IndexService interface {
	IndexResume(ctx context.Context, record *types.ResumeRecord) (string, error)
	DeleteFromIndex(ctx context.Context, resumeID string) error
}

// FeedbackService LLM简历反馈
type FeedbackService interface {
	GenerateFeedback(ctx context.Context, record *types.ResumeRecord, req *types.FeedbackRequest) (*types.FeedbackResult, error)
}

// ResumeHandler 简历生命周期接口：上传、查询、删除、索引管理、反馈。
// 除记录库外的依赖均可为nil，对应能力降级并记录日志。
type ResumeHandler struct {
	cfg       *config.Config
	store     RecordStore
	files     FileStore
	md5s      MD5Registry
	queue     IndexEventPublisher
	extractor TextExtractor
	indexer   IndexService
	feedback  FeedbackService
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(cfg *config.Config, store RecordStore, files FileStore, md5s MD5Registry,
	queue IndexEventPublisher, extractor TextExtractor, indexer IndexService, feedback FeedbackService) *ResumeHandler {
	return &ResumeHandler{
		cfg:       cfg,
		store:     store,
		files:     files,
		md5s:      md5s,
		queue:     queue,
		extractor: extractor,
		indexer:   indexer,
		feedback:  feedback,
	}
}

// ResumeUploadResponse 简历上传响应
type ResumeUploadResponse struct {
	ResumeID  string `json:"resume_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

const (
	uploadStatusCreated      = "CREATED"
	uploadStatusIndexQueued  = "CREATED_INDEX_QUEUED"
	uploadStatusIndexed      = "CREATED_INDEXED"
	uploadStatusIndexSkipped = "CREATED_INDEX_SKIPPED"
	uploadStatusDuplicate    = "DUPLICATE_FILE_SKIPPED"
)

// HandleResumeUpload 处理简历文件上传
// POST /api/v1/resumes/upload
func (h *ResumeHandler) HandleResumeUpload(ctx context.Context, c *app.RequestContext) {
	if h.store == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "记录库不可用", "error_type": ErrorTypeInternal})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到", "error_type": ErrorTypeInvalidQuery})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败", "error_type": ErrorTypeInternal})
		return
	}
	defer file.Close()

	fileBytes, err := io.ReadAll(file)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "读取上传文件内容失败", "error_type": ErrorTypeInternal})
		return
	}
	if len(fileBytes) == 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "上传文件为空", "error_type": ErrorTypeInvalidQuery})
		return
	}

	uuidV7, err := uuid.NewV7()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "生成简历ID失败", "error_type": ErrorTypeInternal})
		return
	}
	resumeID := uuidV7.String()

	sum := md5.Sum(fileBytes)
	fileMD5Hex := hex.EncodeToString(sum[:])

	// 文件级MD5去重。Redis登记表为主路径，登记表缺失或故障时退回
	// 记录库按content_md5查询兜底。
	if existingID := h.findDuplicate(ctx, fileMD5Hex, resumeID); existingID != "" {
		logger.Info().Str("md5", fileMD5Hex).Str("existing_id", existingID).Msg("检测到重复的文件MD5，跳过处理")
		c.JSON(consts.StatusOK, &ResumeUploadResponse{
			ResumeID:  existingID,
			Status:    uploadStatusDuplicate,
			Duplicate: true,
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext == "" {
		ext = ".pdf"
	}

	var objectKey string
	if h.files != nil {
		objectKey, _, err = h.files.UploadResumeFileStreaming(ctx, resumeID, ext, bytes.NewReader(fileBytes), int64(len(fileBytes)))
		if err != nil {
			logger.Error().Err(err).Str("resume_id", resumeID).Msg("上传简历文件到对象存储失败")
			c.JSON(consts.StatusInternalServerError, utils.H{"error": "存储简历文件失败", "error_type": ErrorTypeInternal})
			return
		}
	}

	// 提取文本。扫描件等无法提取的PDF返回固定占位文本，上传流程继续
	content := ""
	if h.extractor != nil {
		text, _, extractErr := h.extractor.ExtractTextFromBytes(ctx, fileBytes, fileHeader.Filename)
		if extractErr != nil {
			logger.Warn().Err(extractErr).Str("resume_id", resumeID).Msg("简历文本提取失败")
		} else {
			content = text
		}
	}

	now := time.Now().UnixMilli()
	record := &types.ResumeRecord{
		ID:          resumeID,
		Title:       firstNonEmpty(c.PostForm("title"), strings.TrimSuffix(fileHeader.Filename, ext)),
		Role:        c.PostForm("role"),
		Author:      c.PostForm("author"),
		Content:     content,
		PDFURL:      objectKey,
		PDFFilename: fileHeader.Filename,
		ContentMD5:  fileMD5Hex,
		IsPublic:    c.PostForm("is_public") == "true",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if skills := c.PostForm("skills"); skills != "" {
		record.Skills = splitAndTrim(skills)
	}
	record.ApplyDefaults()

	if err := h.store.CreateResume(ctx, record); err != nil {
		logger.Error().Err(err).Str("resume_id", resumeID).Msg("创建简历记录失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "保存简历记录失败", "error_type": ErrorTypeInternal})
		return
	}

	c.JSON(consts.StatusOK, &ResumeUploadResponse{
		ResumeID: resumeID,
		Status:   h.scheduleIndexing(ctx, record),
	})
}

// findDuplicate 返回与上传文件同MD5的既有简历ID，无重复返回空串。
// 登记表中已有映射且对应记录仍存在时视为重复，记录已被删除的陈旧映射
// 放行并覆盖。
func (h *ResumeHandler) findDuplicate(ctx context.Context, fileMD5Hex, resumeID string) string {
	if h.md5s != nil {
		exists, existingID, md5Err := h.md5s.CheckAndSetFileMD5(ctx, fileMD5Hex, resumeID)
		switch {
		case md5Err != nil:
			logger.Warn().Err(md5Err).Str("md5", fileMD5Hex).Msg("MD5登记表检查失败，退回记录库去重")
		case !exists:
			return ""
		case existingID != "":
			if _, lookupErr := h.store.GetResumeByID(ctx, existingID); lookupErr == nil {
				return existingID
			}
			// 陈旧映射，清掉后重新登记
			if rmErr := h.md5s.RemoveFileMD5(ctx, fileMD5Hex); rmErr == nil {
				_, _, _ = h.md5s.CheckAndSetFileMD5(ctx, fileMD5Hex, resumeID)
			}
			return ""
		default:
			return ""
		}
	}

	existingID, err := h.store.GetResumeIDByContentMD5(ctx, fileMD5Hex)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Str("md5", fileMD5Hex).Msg("按MD5查询记录库失败，跳过去重")
		}
		return ""
	}
	return existingID
}

// scheduleIndexing 为新记录安排索引：优先走消息队列，队列未配置时
// 同步索引，索引整体关闭时只保存记录。
func (h *ResumeHandler) scheduleIndexing(ctx context.Context, record *types.ResumeRecord) string {
	if h.cfg != nil && !h.cfg.Indexing.Enabled {
		logger.Info().Str("resume_id", record.ID).Msg("索引已关闭，仅保存记录")
		return uploadStatusIndexSkipped
	}

	if h.queue != nil {
		if err := h.queue.PublishIndexEvent(ctx, record.ID, storage.IndexActionUpsert); err == nil {
			return uploadStatusIndexQueued
		} else {
			logger.Warn().Err(err).Str("resume_id", record.ID).Msg("发布索引事件失败，回退到同步索引")
		}
	}

	if h.indexer != nil {
		if _, err := h.indexer.IndexResume(ctx, record); err != nil {
			logger.Error().Err(err).Str("resume_id", record.ID).Msg("同步索引失败，记录已保存待一致性校验补偿")
			return uploadStatusCreated
		}
		return uploadStatusIndexed
	}

	return uploadStatusCreated
}

// HandleGetResume 查询单条简历
// GET /api/v1/resumes/:id
func (h *ResumeHandler) HandleGetResume(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if id == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "id 不能为空", "error_type": ErrorTypeInvalidQuery})
		return
	}

	record, err := h.store.GetResumeByID(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	resp := utils.H{"record": record}
	if h.files != nil && record.PDFURL != "" {
		if url, urlErr := h.files.GetPresignedURL(ctx, record.PDFURL, 15*time.Minute); urlErr == nil {
			resp["pdf_download_url"] = url
		}
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleListResumes 分页列出简历
// GET /api/v1/resumes
func (h *ResumeHandler) HandleListResumes(ctx context.Context, c *app.RequestContext) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)
	if page < 1 {
		page = 1
	}

	records, total, err := h.store.ListResumes(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"records":      records,
		"page":         page,
		"pageSize":     pageSize,
		"totalResults": total,
		"totalPages":   types.TotalPagesFor(int(total), pageSize),
	})
}

// HandleDeleteResume 删除简历记录、文件与向量
// DELETE /api/v1/resumes/:id
func (h *ResumeHandler) HandleDeleteResume(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if id == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "id 不能为空", "error_type": ErrorTypeInvalidQuery})
		return
	}

	record, err := h.store.GetResumeByID(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if err := h.store.DeleteResume(ctx, id); err != nil {
		writeServiceError(c, err)
		return
	}

	// 记录删除成功后，向量与文件清理失败只记录日志：
	// 悬挂向量由一致性校验任务兜底
	if err := h.deleteVector(ctx, id); err != nil {
		logger.Warn().Err(err).Str("resume_id", id).Msg("删除向量失败，留给一致性校验处理")
	}
	if h.files != nil && record.PDFURL != "" {
		if err := h.files.DeleteResumeFile(ctx, record.PDFURL); err != nil {
			logger.Warn().Err(err).Str("resume_id", id).Str("object_key", record.PDFURL).Msg("删除简历文件失败")
		}
	}

	c.JSON(consts.StatusOK, utils.H{"resume_id": id, "status": "DELETED"})
}

func (h *ResumeHandler) deleteVector(ctx context.Context, resumeID string) error {
	if h.queue != nil {
		if err := h.queue.PublishIndexEvent(ctx, resumeID, storage.IndexActionDelete); err == nil {
			return nil
		}
	}
	if h.indexer != nil {
		return h.indexer.DeleteFromIndex(ctx, resumeID)
	}
	return nil
}

// HandleReindexResume 重建单条简历的向量索引
// PUT /api/v1/resumes/:id/index
func (h *ResumeHandler) HandleReindexResume(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	record, err := h.store.GetResumeByID(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if h.queue != nil {
		if pubErr := h.queue.PublishIndexEvent(ctx, id, storage.IndexActionUpsert); pubErr == nil {
			c.JSON(consts.StatusOK, utils.H{"success": true, "resumeId": id, "status": "INDEX_QUEUED"})
			return
		} else {
			logger.Warn().Err(pubErr).Str("resume_id", id).Msg("发布重建索引事件失败，回退到同步索引")
		}
	}

	if h.indexer == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "索引服务不可用", "error_type": ErrorTypeIndexUnavailable})
		return
	}
	pointID, err := h.indexer.IndexResume(ctx, record)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"success": true, "resumeId": id, "pointId": pointID, "status": "INDEXED"})
}

// ResumeUpdateRequest 可更新的简历元数据字段，nil表示不修改
type ResumeUpdateRequest struct {
	Title           *string  `json:"title,omitempty"`
	Role            *string  `json:"role,omitempty"`
	Author          *string  `json:"author,omitempty"`
	ExperienceLevel *string  `json:"experience_level,omitempty"`
	YearsExperience *int     `json:"years_experience,omitempty"`
	Skills          []string `json:"skills,omitempty"`
	Education       *string  `json:"education,omitempty"`
	IsPublic        *bool    `json:"is_public,omitempty"`
}

// HandleUpdateResume 部分更新简历元数据并重建索引
// PUT /api/v1/resumes/:id
func (h *ResumeHandler) HandleUpdateResume(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")

	var req ResumeUpdateRequest
	if bindErr := c.BindJSON(&req); bindErr != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误", "error_type": ErrorTypeInvalidQuery})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Role != nil {
		updates["role"] = *req.Role
	}
	if req.Author != nil {
		updates["author"] = *req.Author
	}
	if req.ExperienceLevel != nil {
		level := types.ExperienceLevel(*req.ExperienceLevel)
		if _, ok := types.ValidExperienceLevels[level]; !ok {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "无效的经验等级", "error_type": ErrorTypeInvalidQuery})
			return
		}
		updates["experience_level"] = string(level)
	}
	if req.YearsExperience != nil {
		updates["years_experience"] = *req.YearsExperience
	}
	if req.Skills != nil {
		data, marshalErr := models.StringSliceToJSON(req.Skills)
		if marshalErr != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "skills格式错误", "error_type": ErrorTypeInvalidQuery})
			return
		}
		updates["skills_json"] = data
	}
	if req.Education != nil {
		updates["education"] = *req.Education
	}
	if req.IsPublic != nil {
		updates["is_public"] = *req.IsPublic
	}
	if len(updates) == 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "没有可更新的字段", "error_type": ErrorTypeInvalidQuery})
		return
	}

	if err := h.store.UpdateResume(ctx, id, updates); err != nil {
		writeServiceError(c, err)
		return
	}

	record, err := h.store.GetResumeByID(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	// 元数据变了，向量文档也要跟着重建
	c.JSON(consts.StatusOK, utils.H{
		"record": record,
		"status": h.scheduleIndexing(ctx, record),
	})
}

// HandleRemoveFromIndex 从向量索引中移除简历，幂等
// DELETE /api/v1/resumes/:id/index
func (h *ResumeHandler) HandleRemoveFromIndex(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if id == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "id 不能为空", "error_type": ErrorTypeInvalidQuery})
		return
	}

	if err := h.deleteVector(ctx, id); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"resume_id": id, "status": "INDEX_REMOVED"})
}

// HandleResumeFeedback 为简历生成LLM反馈
// POST /api/v1/resumes/:id/feedback
func (h *ResumeHandler) HandleResumeFeedback(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	record, err := h.store.GetResumeByID(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if h.feedback == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "反馈服务不可用", "error_type": ErrorTypeInternal})
		return
	}

	var req types.FeedbackRequest
	if len(c.Request.Body()) > 0 {
		if bindErr := c.BindJSON(&req); bindErr != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误", "error_type": ErrorTypeInvalidQuery})
			return
		}
	}

	result, err := h.feedback.GenerateFeedback(ctx, record, &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func queryInt(c *app.RequestContext, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	var value int
	if _, err := fmt.Sscanf(raw, "%d", &value); err != nil {
		return fallback
	}
	return value
}
