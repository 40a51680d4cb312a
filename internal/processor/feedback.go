package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resume-search-go/internal/config"
	"resume-search-go/internal/logger"
	"resume-search-go/internal/types"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// llmClient 反馈LLM的最小调用面，便于测试替换
type llmClient interface {
	complete(ctx context.Context, systemPrompt, userPrompt string) (text string, model string, err error)
}

// anthropicClient 基于官方SDK的llmClient实现
type anthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

func newAnthropicClient(cfg config.AnthropicConfig) *anthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &anthropicClient{
		client:    &client,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}
}

func (c *anthropicClient) complete(ctx context.Context, systemPrompt, userPrompt string) (string, string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", "", fmt.Errorf("anthropic请求失败: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", "", fmt.Errorf("anthropic返回空响应")
	}
	return text.String(), string(resp.Model), nil
}

// FeedbackGenerator 简历反馈服务。远端LLM不可用或未配置API key时
// 退回确定性的本地模板，调用方始终能拿到一份反馈。
type FeedbackGenerator struct {
	client  llmClient
	timeout time.Duration
}

// NewFeedbackGenerator 创建反馈服务。cfg.APIKey为空时不创建远端客户端，
// 所有请求直接走本地模板。
func NewFeedbackGenerator(cfg config.AnthropicConfig) *FeedbackGenerator {
	g := &FeedbackGenerator{
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if g.timeout <= 0 {
		g.timeout = 60 * time.Second
	}
	if cfg.APIKey == "" {
		logger.Info().Msg("未配置Anthropic API key，简历反馈使用本地模板")
		return g
	}
	g.client = newAnthropicClient(cfg)
	return g
}

const feedbackSystemPrompt = "你是一位资深的技术招聘顾问。请针对用户提供的简历给出具体、可执行的改进建议，" +
	"覆盖内容结构、技能呈现、项目描述和与目标岗位的匹配度，使用Markdown格式输出。"

// GenerateFeedback 为一份简历生成反馈。远端调用失败不作为错误返回，
// 而是降级到本地模板并在结果中标记Fallback。
func (g *FeedbackGenerator) GenerateFeedback(ctx context.Context, record *types.ResumeRecord, req *types.FeedbackRequest) (*types.FeedbackResult, error) {
	if record == nil || strings.TrimSpace(record.Content) == "" {
		return nil, NewInvalidQueryError("简历内容为空，无法生成反馈")
	}
	if req == nil {
		req = &types.FeedbackRequest{}
	}

	result := &types.FeedbackResult{
		ResumeID:    record.ID,
		GeneratedAt: time.Now().UnixMilli(),
	}

	if g.client != nil {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		text, model, err := g.client.complete(callCtx, feedbackSystemPrompt, buildFeedbackPrompt(record, req))
		if err == nil {
			result.Feedback = text
			result.Model = model
			return result, nil
		}
		logger.Warn().Err(err).Str("resume_id", record.ID).Msg("LLM反馈调用失败，降级到本地模板")
	}

	result.Feedback = fallbackFeedback(record, req)
	result.Fallback = true
	return result, nil
}

// buildFeedbackPrompt 组装发给LLM的用户消息
func buildFeedbackPrompt(record *types.ResumeRecord, req *types.FeedbackRequest) string {
	var b strings.Builder
	if req.TargetRole != "" {
		fmt.Fprintf(&b, "目标岗位: %s\n", req.TargetRole)
	}
	if req.TargetCompany != "" {
		fmt.Fprintf(&b, "目标公司: %s\n", req.TargetCompany)
	}
	if req.CareerLevel != "" {
		fmt.Fprintf(&b, "职级定位: %s\n", req.CareerLevel)
	}
	b.WriteString("\n以下是简历全文:\n\n")
	b.WriteString(record.Content)
	return b.String()
}

// fallbackFeedback 本地模板反馈。同一输入始终产生同一输出。
func fallbackFeedback(record *types.ResumeRecord, req *types.FeedbackRequest) string {
	role := req.TargetRole
	if role == "" {
		role = record.Role
	}
	if role == "" {
		role = "目标岗位"
	}

	var b strings.Builder
	b.WriteString("# 简历反馈（离线模板）\n\n")
	b.WriteString("> 当前无法连接智能反馈服务，以下为基于简历结构的通用建议。\n\n")

	fmt.Fprintf(&b, "## 针对「%s」的通用建议\n\n", role)
	b.WriteString("1. **量化成果**: 为每段经历补充可度量的结果（性能提升比例、用户规模、成本节约）。\n")
	b.WriteString("2. **技能对齐**: 对照岗位描述，把最相关的技能放到简历前部。\n")
	b.WriteString("3. **项目描述**: 使用“背景-行动-结果”结构描述每个项目，突出个人贡献。\n")

	if len(record.Skills) > 0 {
		fmt.Fprintf(&b, "\n## 已识别的技能\n\n%s\n", strings.Join(record.Skills, "、"))
	}
	if req.TargetCompany != "" {
		fmt.Fprintf(&b, "\n## 公司匹配\n\n研究%s的技术栈与业务方向，在简历中体现相关经验。\n", req.TargetCompany)
	}

	b.WriteString("\n---\n*智能反馈服务恢复后可重新生成个性化建议。*\n")
	return b.String()
}
