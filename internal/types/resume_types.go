package types

import "math"

// ExperienceLevel 经验等级枚举
type ExperienceLevel string

const (
	// ExperienceEntry 初级
	ExperienceEntry ExperienceLevel = "entry"
	// ExperienceMid 中级
	ExperienceMid ExperienceLevel = "mid"
	// ExperienceSenior 高级
	ExperienceSenior ExperienceLevel = "senior"
	// ExperienceExecutive 管理层
	ExperienceExecutive ExperienceLevel = "executive"
)

// ValidExperienceLevels 允许的经验等级集合
var ValidExperienceLevels = map[ExperienceLevel]struct{}{
	ExperienceEntry:     {},
	ExperienceMid:       {},
	ExperienceSenior:    {},
	ExperienceExecutive: {},
}

// EducationLevel 学历层次枚举
type EducationLevel string

const (
	EducationHighSchool EducationLevel = "high-school"
	EducationAssociate  EducationLevel = "associate"
	EducationBachelor   EducationLevel = "bachelor"
	EducationMaster     EducationLevel = "master"
	EducationPhD        EducationLevel = "phd"
)

// ValidEducationLevels 允许的学历层次集合
var ValidEducationLevels = map[EducationLevel]struct{}{
	EducationHighSchool: {},
	EducationAssociate:  {},
	EducationBachelor:   {},
	EducationMaster:     {},
	EducationPhD:        {},
}

// ResumeRecord 规范化的简历记录，是系统内唯一的简历数据形态。
// ID 一经创建不可变，且在记录库与向量索引之间保持一一对应。
type ResumeRecord struct {
	ID              string          `json:"id"`
	Title           string          `json:"title,omitempty"`
	Role            string          `json:"role,omitempty"`
	Author          string          `json:"author,omitempty"`
	ExperienceLevel ExperienceLevel `json:"experience_level,omitempty"`
	YearsExperience int             `json:"years_experience,omitempty"`
	Skills          []string        `json:"skills,omitempty"`
	Companies       []string        `json:"companies,omitempty"`
	Interviews      []string        `json:"interviews,omitempty"`
	Offers          []string        `json:"offers,omitempty"`
	Education       string          `json:"education,omitempty"`
	EducationLevel  EducationLevel  `json:"education_level,omitempty"`
	Content         string          `json:"content,omitempty"`
	PDFURL          string          `json:"pdf_url,omitempty"`
	PDFFilename     string          `json:"pdf_filename,omitempty"`
	ContentMD5      string          `json:"content_md5,omitempty"`
	IsPublic        bool            `json:"is_public"`
	CreatedAt       int64           `json:"created_at"` // epoch millis
	UpdatedAt       int64           `json:"updated_at"` // epoch millis
}

// ApplyDefaults 填充缺省值，在记录库边界调用一次
func (r *ResumeRecord) ApplyDefaults() {
	if r.ExperienceLevel == "" {
		r.ExperienceLevel = ExperienceMid
	}
}

// SearchFilter 结构化检索约束，字段缺省表示不约束。
// 标量字段做等值匹配，切片字段做集合包含匹配。
type SearchFilter struct {
	Role            string   `json:"role,omitempty"`
	Education       string   `json:"education,omitempty"`
	ExperienceLevel string   `json:"experienceLevel,omitempty"`
	Skills          []string `json:"skills,omitempty"`
	Companies       []string `json:"companies,omitempty"`
}

// IsEmpty 判断过滤器是否未施加任何约束
func (f *SearchFilter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return f.Role == "" && f.Education == "" && f.ExperienceLevel == "" &&
		len(f.Skills) == 0 && len(f.Companies) == 0
}

// ResultSource 标识一条搜索结果的数据来源
type ResultSource string

const (
	// SourceHydrated 已从记录库补全完整记录
	SourceHydrated ResultSource = "hydrated"
	// SourceMetadataOnly 仅包含向量索引中的摘要元数据（降级模式）
	SourceMetadataOnly ResultSource = "metadata_only"
)

// SearchResult 单条搜索结果。Score 为向量索引返回的余弦相似度，
// 不做二次归一化。Record 仅在 Source 为 hydrated 时非空。
type SearchResult struct {
	ID       string                 `json:"id"`
	Score    float32                `json:"score"`
	Source   ResultSource           `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Record   *ResumeRecord          `json:"record,omitempty"`
}

// SearchResponse 搜索响应
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	Page         int            `json:"page"`
	PageSize     int            `json:"pageSize"`
	TotalResults int            `json:"totalResults"`
	TotalPages   int            `json:"totalPages"`
	// Degraded 为 true 表示记录库整体不可达，结果均为 metadata_only
	Degraded bool `json:"degraded"`
}

// TotalPagesFor 统一的总页数定义: ceil(totalResults / pageSize)
func TotalPagesFor(totalResults, pageSize int) int {
	if pageSize <= 0 || totalResults <= 0 {
		return 0
	}
	return int(math.Ceil(float64(totalResults) / float64(pageSize)))
}

// FeedbackRequest LLM简历反馈请求
type FeedbackRequest struct {
	TargetRole    string `json:"targetRole,omitempty"`
	TargetCompany string `json:"targetCompany,omitempty"`
	CareerLevel   string `json:"careerLevel,omitempty"`
}

// FeedbackResult LLM简历反馈结果
type FeedbackResult struct {
	ResumeID string `json:"resume_id"`
	Feedback string `json:"feedback"`
	// Fallback 为 true 表示远端LLM不可用，返回的是本地模板反馈
	Fallback    bool   `json:"fallback"`
	GeneratedAt int64  `json:"generated_at"`
	Model       string `json:"model,omitempty"`
}
