package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	// ErrInvalidQuery 查询在规范化后为空或参数非法，任何网络调用之前返回
	ErrInvalidQuery = errors.New("无效的搜索查询")
	// ErrEmbeddingUnavailable Embedding服务经重试后仍不可用
	ErrEmbeddingUnavailable = errors.New("embedding服务不可用")
	// ErrIndexUnavailable 向量索引不可用
	ErrIndexUnavailable = errors.New("向量索引不可用")
	// ErrRecordHydrationFailed 命中结果回读记录库失败（部分失败不致命，整体失败走降级）
	ErrRecordHydrationFailed = errors.New("补全简历记录失败")
	// ErrResumeNotFound 简历记录不存在
	ErrResumeNotFound = errors.New("简历记录不存在")
	// ErrExtractionFailed 简历文本提取失败
	ErrExtractionFailed = errors.New("提取简历文本失败")
	// ErrFeedbackUnavailable LLM反馈服务不可用且无法降级
	ErrFeedbackUnavailable = errors.New("简历反馈服务不可用")
)

// SearchProcessError 包含详细错误信息的自定义错误
type SearchProcessError struct {
	ResumeID string
	Op       string
	BaseErr  error
	Detail   string
}

func (e *SearchProcessError) Error() string {
	if e.ResumeID == "" {
		if e.Detail != "" {
			return fmt.Sprintf("%s (操作:%s): %s", e.BaseErr, e.Op, e.Detail)
		}
		return fmt.Sprintf("%s (操作:%s)", e.BaseErr, e.Op)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, ID:%s): %s", e.BaseErr, e.Op, e.ResumeID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, ID:%s)", e.BaseErr, e.Op, e.ResumeID)
}

func (e *SearchProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *SearchProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数

func NewInvalidQueryError(detail string) error {
	return &SearchProcessError{
		Op:      "validate",
		BaseErr: ErrInvalidQuery,
		Detail:  detail,
	}
}

func NewEmbeddingError(detail string) error {
	return &SearchProcessError{
		Op:      "embed",
		BaseErr: ErrEmbeddingUnavailable,
		Detail:  detail,
	}
}

func NewIndexError(resumeID, detail string) error {
	return &SearchProcessError{
		ResumeID: resumeID,
		Op:       "index",
		BaseErr:  ErrIndexUnavailable,
		Detail:   detail,
	}
}

func NewHydrationError(resumeID, detail string) error {
	return &SearchProcessError{
		ResumeID: resumeID,
		Op:       "hydrate",
		BaseErr:  ErrRecordHydrationFailed,
		Detail:   detail,
	}
}

func NewExtractionError(resumeID, detail string) error {
	return &SearchProcessError{
		ResumeID: resumeID,
		Op:       "extract",
		BaseErr:  ErrExtractionFailed,
		Detail:   detail,
	}
}
