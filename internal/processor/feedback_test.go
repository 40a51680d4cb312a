package processor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"resume-search-go/internal/config"
	"resume-search-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLLMClient 返回固定反馈文本的测试桩
type stubLLMClient struct {
	text       string
	err        error
	calls      int32
	lastPrompt string
}

func (s *stubLLMClient) complete(ctx context.Context, systemPrompt, userPrompt string) (string, string, error) {
	atomic.AddInt32(&s.calls, 1)
	s.lastPrompt = userPrompt
	if s.err != nil {
		return "", "", s.err
	}
	return s.text, "test-model", nil
}

func feedbackRecord() *types.ResumeRecord {
	return &types.ResumeRecord{
		ID:      "r1",
		Role:    "后端工程师",
		Skills:  []string{"Go", "MySQL"},
		Content: "五年Go后端开发经验，负责搜索与推荐系统。",
	}
}

func TestGenerateFeedbackRemoteSuccess(t *testing.T) {
	stub := &stubLLMClient{text: "## 反馈\n结构清晰。"}
	g := &FeedbackGenerator{client: stub, timeout: time.Second}

	result, err := g.GenerateFeedback(context.Background(), feedbackRecord(), &types.FeedbackRequest{
		TargetRole:    "资深后端工程师",
		TargetCompany: "某云厂商",
	})
	require.NoError(t, err)

	assert.False(t, result.Fallback)
	assert.Equal(t, "## 反馈\n结构清晰。", result.Feedback)
	assert.Equal(t, "test-model", result.Model)
	assert.Equal(t, "r1", result.ResumeID)
	assert.Contains(t, stub.lastPrompt, "资深后端工程师", "目标岗位应进入提示词")
	assert.Contains(t, stub.lastPrompt, "五年Go后端开发经验", "简历全文应进入提示词")
}

func TestGenerateFeedbackFallbackOnRemoteFailure(t *testing.T) {
	stub := &stubLLMClient{err: errors.New("connection refused")}
	g := &FeedbackGenerator{client: stub, timeout: time.Second}

	result, err := g.GenerateFeedback(context.Background(), feedbackRecord(), &types.FeedbackRequest{TargetRole: "后端工程师"})
	require.NoError(t, err, "远端失败应降级而非报错")

	assert.True(t, result.Fallback)
	assert.Contains(t, result.Feedback, "后端工程师")
	assert.Contains(t, result.Feedback, "Go、MySQL", "模板应列出已识别技能")
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.calls))
}

func TestGenerateFeedbackNoAPIKeyUsesTemplate(t *testing.T) {
	g := NewFeedbackGenerator(config.AnthropicConfig{})
	require.Nil(t, g.client, "无API key时不应创建远端客户端")

	record := feedbackRecord()
	first, err := g.GenerateFeedback(context.Background(), record, nil)
	require.NoError(t, err)
	second, err := g.GenerateFeedback(context.Background(), record, nil)
	require.NoError(t, err)

	assert.True(t, first.Fallback)
	assert.Equal(t, first.Feedback, second.Feedback, "本地模板必须确定性")
}

func TestGenerateFeedbackEmptyContent(t *testing.T) {
	g := NewFeedbackGenerator(config.AnthropicConfig{})

	_, err := g.GenerateFeedback(context.Background(), &types.ResumeRecord{ID: "r1", Content: "   "}, nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = g.GenerateFeedback(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
