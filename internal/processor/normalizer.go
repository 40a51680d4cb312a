package processor

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"resume-search-go/internal/constants"
	"resume-search-go/internal/types"
)

// Normalizer 文本规范化器。语料和查询走同一套规范化，
// 保证两侧在同一文本空间内做向量比对。
type Normalizer struct {
	maxInputLength int
}

// NewNormalizer 创建规范化器
func NewNormalizer() *Normalizer {
	return &Normalizer{
		maxInputLength: constants.MaxEmbeddingInputLength,
	}
}

// NormalizeText 规范化文本: 去除控制字符，折叠空白，小写化，去首尾空白。
// 幂等: NormalizeText(NormalizeText(s)) == NormalizeText(s)。
func (n *Normalizer) NormalizeText(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		// 控制字符（除空白外）直接丢弃，空白统一为普通空格
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			continue
		}
		if unicode.IsSpace(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}

	// 折叠连续空格
	return strings.Join(strings.Fields(b.String()), " ")
}

// TruncateAtWord 在maxLen字节以内按词边界截断。
// 截断点回退到最后一个完整的词；整段都无空格时按rune边界硬截断。
func TruncateAtWord(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}

	// 先回退到rune边界，避免截出半个UTF-8字符
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	truncated := s[:cut]

	// 回退到最后一个词边界
	if idx := strings.LastIndexByte(truncated, ' '); idx > 0 {
		return strings.TrimRight(truncated[:idx], " ")
	}
	return truncated
}

// NormalizeRecord 将简历记录的可检索字段拼接成送入embedding模型的文档文本：
// 固定字段顺序的 "label: value" 行，字段值走与查询相同的规范化，空字段整行省略。
// 结构化字段在前，正文在后，超长时优先保留结构化部分。无I/O，幂等。
func (n *Normalizer) NormalizeRecord(record *types.ResumeRecord) string {
	if record == nil {
		return ""
	}

	var lines []string
	addLine := func(label, value string) {
		if v := n.NormalizeText(value); v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	addList := func(label string, values []string) {
		if len(values) > 0 {
			addLine(label, strings.Join(values, ", "))
		}
	}

	addLine("title", record.Title)
	addLine("role", record.Role)
	addLine("experience", string(record.ExperienceLevel))
	addList("skills", record.Skills)
	addLine("education", strings.TrimSpace(record.Education+" "+string(record.EducationLevel)))
	if record.YearsExperience > 0 {
		addLine("years", strconv.Itoa(record.YearsExperience))
	}
	addList("companies", record.Companies)
	addList("interviews", record.Interviews)
	addList("offers", record.Offers)
	addLine("content", record.Content)

	return TruncateAtWord(strings.Join(lines, "\n"), n.maxInputLength)
}

// ProcessQuery 规范化并校验搜索查询。
// 规范化后为空的查询返回 ErrInvalidQuery，调用方必须在任何网络调用之前执行本步骤。
func (n *Normalizer) ProcessQuery(query string) (string, error) {
	normalized := n.NormalizeText(query)
	if normalized == "" {
		return "", NewInvalidQueryError("查询规范化后为空")
	}
	return TruncateAtWord(normalized, n.maxInputLength), nil
}
