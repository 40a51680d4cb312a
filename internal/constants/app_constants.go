package constants

import "time"

const (
	// MaxEmbeddingInputLength 送入embedding模型的文本最大长度
	MaxEmbeddingInputLength = 5000

	// ContentPreviewLength 随向量一起存储的内容预览最大长度
	ContentPreviewLength = 500

	// DefaultIndexDimension 向量索引的默认维度
	DefaultIndexDimension = 1024

	// MaxTopK 向量检索允许的最大topK（与后端限制保持一致）
	MaxTopK = 1000

	// DefaultPageSize 搜索默认分页大小
	DefaultPageSize = 10

	// DefaultBatchWorkers 批量索引的默认并发数
	DefaultBatchWorkers = 8

	// SearchSessionTTL 搜索结果缓存的过期时间
	SearchSessionTTL = 30 * time.Minute

	// MD5RecordExpire 上传文件MD5去重记录的过期时间
	MD5RecordExpire = 365 * 24 * time.Hour

	// PDFExtractionFailureMessage PDF无法提取文本时的固定提示语
	PDFExtractionFailureMessage = "PDF may be image-based/scanned/protected"
)
