package protect

import (
	"fmt"
	"sort"
)

// Type 片段类型
type Type string

// 结构化标识符
const (
	TypeCURP       Type = "CURP"
	TypeRFC        Type = "RFC"
	TypeNSS        Type = "NSS"
	TypeINE        Type = "INE"
	TypeSSN        Type = "SSN"
	TypeMRN        Type = "MRN"
	TypeHealthPlan Type = "HEALTH_PLAN"
	TypeAccount    Type = "ACCOUNT"
	TypeLicense    Type = "LICENSE"
	TypeVehicle    Type = "VEHICLE"
	TypeDevice     Type = "DEVICE"
	TypeEmail      Type = "EMAIL"
	TypePhone      Type = "PHONE"
	TypeFax        Type = "FAX"
	TypeURL        Type = "URL"
	TypeIP         Type = "IP"
	TypeBiometric  Type = "BIOMETRIC"
	TypePhoto      Type = "PHOTO"
	TypeDate       Type = "DATE"
	TypeAgeOver89  Type = "AGE_OVER_89"
	TypeAddress    Type = "ADDRESS"
	TypeZIP        Type = "ZIP"
)

// 实体识别能力集合
const (
	TypeName         Type = "NAME"
	TypeLocation     Type = "LOCATION"
	TypeOrganization Type = "ORGANIZATION"
	TypeMisc         Type = "MISC"
)

// 术语锚定
const (
	TypeMedicalTerm Type = "MEDICAL_TERM"
	TypeDosage      Type = "DOSAGE"
	TypeLabValue    Type = "LAB_VALUE"
	TypeICDCode     Type = "ICD_CODE"
)

// typePriority 固定的类型优先级，数值越小越优先。
// 结构化标识符漏检的代价高于自由文本姓名，因此排在前面。
var typePriority = map[Type]int{
	TypeCURP:         10,
	TypeRFC:          11,
	TypeNSS:          12,
	TypeINE:          13,
	TypeSSN:          14,
	TypeMRN:          20,
	TypeHealthPlan:   21,
	TypeAccount:      22,
	TypeLicense:      23,
	TypeVehicle:      24,
	TypeDevice:       25,
	TypeBiometric:    26,
	TypeEmail:        30,
	TypeURL:          31,
	TypeIP:           32,
	TypePhone:        33,
	TypeFax:          34,
	TypePhoto:        35,
	TypeDate:         40,
	TypeAgeOver89:    41,
	TypeAddress:      50,
	TypeZIP:          51,
	TypeName:         60,
	TypeLocation:     61,
	TypeOrganization: 62,
	TypeMisc:         63,
	TypeICDCode:      80,
	TypeDosage:       81,
	TypeLabValue:     82,
	TypeMedicalTerm:  83,
}

// unknownTypePriority 未登记类型的优先级
const unknownTypePriority = 100

// TypePriority 返回类型的默认优先级
func TypePriority(t Type) int {
	if p, ok := typePriority[t]; ok {
		return p
	}
	return unknownTypePriority
}

// KnownType 判断是否为已登记的类型
func KnownType(t Type) bool {
	_, ok := typePriority[t]
	return ok
}

// Source 片段来源
type Source string

const (
	SourceRule     Source = "rule"
	SourceModel    Source = "model"
	SourceOntology Source = "ontology"
)

// Category 片段处理方式
type Category string

const (
	// CategoryRedact 敏感信息，翻译前必须移除
	CategoryRedact Category = "redact"
	// CategoryAnchor 术语锚定，防止被误译
	CategoryAnchor Category = "anchor"
)

// Span 文档中检测到的片段。偏移量以原文的码点（rune）计。
type Span struct {
	Type       Type     `json:"type"`
	Text       string   `json:"-"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Confidence float64  `json:"confidence"`
	Source     Source   `json:"source"`
	Category   Category `json:"category"`
	Priority   int      `json:"priority"`

	// FormatHint 为空时由 Tokenizer 按类型决定
	FormatHint FormatHint `json:"format_hint,omitempty"`

	// 仅本体查询产生的片段使用
	ConceptID  string `json:"concept_id,omitempty"`
	TargetTerm string `json:"-"`
}

// Len 片段长度（码点）
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps 判断两个片段是否重叠
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// String 只输出类型与位置，不含文本
func (s Span) String() string {
	return fmt.Sprintf("%s[%d:%d]", s.Type, s.Start, s.End)
}

// ResolvedSpanSet 有序且互不重叠的片段集合
type ResolvedSpanSet []Span

// Validate 校验有序、不重叠且不越界
func (rs ResolvedSpanSet) Validate(textLen int) error {
	prevEnd := 0
	for i, s := range rs {
		if s.Start >= s.End {
			return fmt.Errorf("span %d has empty or inverted range %d:%d", i, s.Start, s.End)
		}
		if s.Start < 0 || s.End > textLen {
			return fmt.Errorf("span %d range %d:%d outside document of length %d", i, s.Start, s.End, textLen)
		}
		if i > 0 && s.Start < prevEnd {
			return fmt.Errorf("span %d starts at %d before previous end %d", i, s.Start, prevEnd)
		}
		prevEnd = s.End
	}
	return nil
}

// CountByType 按类型统计数量，结果按类型名排序
func (rs ResolvedSpanSet) CountByType() []TypeCount {
	return countByType(rs)
}

// TypeCount 类型统计
type TypeCount struct {
	Type  Type
	Count int
}

func countByType(spans []Span) []TypeCount {
	counts := make(map[Type]int)
	for _, s := range spans {
		counts[s.Type]++
	}
	out := make([]TypeCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, TypeCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
