package models

import (
	"encoding/json"
	"fmt"
	"time"

	"resume-search-go/internal/types"

	"gorm.io/datatypes"
)

// Resume 简历记录表，记录库中的权威数据形态。
// 列表字段(skills/companies等)以JSON列存储，读写时与 types.ResumeRecord 互转。
type Resume struct {
	ID              string         `gorm:"type:char(36);primaryKey"`
	Title           string         `gorm:"type:varchar(255)"`
	Role            string         `gorm:"type:varchar(255);index:idx_resumes_role"`
	Author          string         `gorm:"type:varchar(255)"`
	ExperienceLevel string         `gorm:"type:varchar(20);default:'mid';index:idx_resumes_experience_level"`
	YearsExperience int            `gorm:"type:int"`
	SkillsJSON      datatypes.JSON `gorm:"type:json"`
	CompaniesJSON   datatypes.JSON `gorm:"type:json"`
	InterviewsJSON  datatypes.JSON `gorm:"type:json"`
	OffersJSON      datatypes.JSON `gorm:"type:json"`
	Education       string         `gorm:"type:varchar(255)"`
	EducationLevel  string         `gorm:"type:varchar(20)"`
	Content         string         `gorm:"type:mediumtext"`
	PDFURL          string         `gorm:"type:varchar(1024)"`
	PDFFilename     string         `gorm:"type:varchar(255)"`
	ContentMD5      string         `gorm:"type:char(32);index:idx_resumes_content_md5"`
	IsPublic        bool           `gorm:"default:false"`
	CreatedAt       time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt       time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Resume) TableName() string {
	return "resumes"
}

// FromRecord 从规范化记录构建数据库模型
func FromRecord(record *types.ResumeRecord) (*Resume, error) {
	if record == nil {
		return nil, fmt.Errorf("简历记录不能为空")
	}
	if record.ID == "" {
		return nil, fmt.Errorf("简历记录缺少ID")
	}

	skills, err := StringSliceToJSON(record.Skills)
	if err != nil {
		return nil, fmt.Errorf("序列化skills失败: %w", err)
	}
	companies, err := StringSliceToJSON(record.Companies)
	if err != nil {
		return nil, fmt.Errorf("序列化companies失败: %w", err)
	}
	interviews, err := StringSliceToJSON(record.Interviews)
	if err != nil {
		return nil, fmt.Errorf("序列化interviews失败: %w", err)
	}
	offers, err := StringSliceToJSON(record.Offers)
	if err != nil {
		return nil, fmt.Errorf("序列化offers失败: %w", err)
	}

	m := &Resume{
		ID:              record.ID,
		Title:           record.Title,
		Role:            record.Role,
		Author:          record.Author,
		ExperienceLevel: string(record.ExperienceLevel),
		YearsExperience: record.YearsExperience,
		SkillsJSON:      skills,
		CompaniesJSON:   companies,
		InterviewsJSON:  interviews,
		OffersJSON:      offers,
		Education:       record.Education,
		EducationLevel:  string(record.EducationLevel),
		Content:         record.Content,
		PDFURL:          record.PDFURL,
		PDFFilename:     record.PDFFilename,
		ContentMD5:      record.ContentMD5,
		IsPublic:        record.IsPublic,
	}
	if record.CreatedAt > 0 {
		m.CreatedAt = time.UnixMilli(record.CreatedAt)
	}
	if record.UpdatedAt > 0 {
		m.UpdatedAt = time.UnixMilli(record.UpdatedAt)
	}
	return m, nil
}

// ToRecord 转换为规范化记录
func (m *Resume) ToRecord() *types.ResumeRecord {
	record := &types.ResumeRecord{
		ID:              m.ID,
		Title:           m.Title,
		Role:            m.Role,
		Author:          m.Author,
		ExperienceLevel: types.ExperienceLevel(m.ExperienceLevel),
		YearsExperience: m.YearsExperience,
		Skills:          JSONToStringSlice(m.SkillsJSON),
		Companies:       JSONToStringSlice(m.CompaniesJSON),
		Interviews:      JSONToStringSlice(m.InterviewsJSON),
		Offers:          JSONToStringSlice(m.OffersJSON),
		Education:       m.Education,
		EducationLevel:  types.EducationLevel(m.EducationLevel),
		Content:         m.Content,
		PDFURL:          m.PDFURL,
		PDFFilename:     m.PDFFilename,
		ContentMD5:      m.ContentMD5,
		IsPublic:        m.IsPublic,
		CreatedAt:       m.CreatedAt.UnixMilli(),
		UpdatedAt:       m.UpdatedAt.UnixMilli(),
	}
	record.ApplyDefaults()
	return record
}

// StringSliceToJSON Helper function to convert []string to datatypes.JSON
func StringSliceToJSON(s []string) (datatypes.JSON, error) {
	if s == nil {
		s = []string{}
	}
	bytes, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// JSONToStringSlice Helper function to convert datatypes.JSON back to []string
func JSONToStringSlice(j datatypes.JSON) []string {
	if len(j) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(j, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
