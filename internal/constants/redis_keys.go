package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "resume_search"

	// SearchModulePrefix 搜索模块
	SearchModulePrefix = "search"
	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// KeySearchSession 搜索会话缓存 (ZSET)
	// 格式: resume_search:search:session:{queryHash}
	KeySearchSession = AppPrefix + ":" + SearchModulePrefix + ":session:%s"

	// KeySearchSessionMeta 搜索会话的索引侧元数据 (HASH, field=resumeID, value=payload JSON)
	// 与 KeySearchSession 同生命周期，缓存命中且记录库不可达时用于降级结果
	// 格式: resume_search:search:session_meta:{queryHash}
	KeySearchSessionMeta = AppPrefix + ":" + SearchModulePrefix + ":session_meta:%s"

	// KeySearchLock 搜索分布式锁 (STRING)
	// 格式: resume_search:search:lock:{queryHash}
	KeySearchLock = AppPrefix + ":" + SearchModulePrefix + ":lock:%s"

	// KeyFileMD5Set 上传文件MD5集合，用于快速去重 (SET)
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":dedup_set"

	// KeyFileMD5ToResumeID MD5到简历ID的映射 (STRING)
	// 格式: resume_search:file:md5_to_id:{md5}
	KeyFileMD5ToResumeID = AppPrefix + ":" + FileModulePrefix + ":md5_to_id:%s"
)
