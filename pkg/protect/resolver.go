package protect

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

// Rejection 被拒绝的候选片段及原因
type Rejection struct {
	Span   Span
	Reason string
}

// Resolve 将候选片段归约为互不重叠的集合。纯函数，输出只取决于输入。
//
// 排序键依次为：置信度降序、长度降序、优先级升序，其后按起点、终点、
// 类型、来源、类别升序打破平局。按序贪心接受不与已接受片段重叠的候选，
// 结果按起点排序。
func Resolve(spans []Span, textLen int) (ResolvedSpanSet, []Rejection) {
	var rejected []Rejection
	candidates := make([]Span, 0, len(spans))
	for _, s := range spans {
		if reason := invalidReason(s, textLen); reason != "" {
			rejected = append(rejected, Rejection{Span: s, Reason: reason})
			continue
		}
		if s.Priority == 0 {
			s.Priority = TypePriority(s.Type)
		}
		candidates = append(candidates, s)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})

	accepted := make([]Span, 0, len(candidates))
	for _, c := range candidates {
		// accepted 按起点有序且互不重叠，只需检查插入位置前后的邻居
		idx := sort.Search(len(accepted), func(k int) bool { return accepted[k].Start >= c.Start })
		if idx > 0 && accepted[idx-1].End > c.Start {
			rejected = append(rejected, Rejection{Span: c, Reason: "overlaps " + accepted[idx-1].String()})
			continue
		}
		if idx < len(accepted) && accepted[idx].Start < c.End {
			rejected = append(rejected, Rejection{Span: c, Reason: "overlaps " + accepted[idx].String()})
			continue
		}
		accepted = append(accepted, Span{})
		copy(accepted[idx+1:], accepted[idx:])
		accepted[idx] = c
	}
	return ResolvedSpanSet(accepted), rejected
}

func invalidReason(s Span, textLen int) string {
	switch {
	case s.Start == s.End:
		return "zero-length span"
	case s.Start > s.End:
		return "inverted span"
	case s.Start < 0 || s.End > textLen:
		return "span outside document"
	case math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1:
		return "confidence outside [0,1]"
	}
	return ""
}

func less(a, b Span) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End < b.End
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.Category < b.Category
}

// ConflictResolver 带日志的冲突消解器
type ConflictResolver struct {
	logger *zap.Logger
}

// NewConflictResolver 创建冲突消解器
func NewConflictResolver(logger *zap.Logger) *ConflictResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictResolver{logger: logger}
}

// Resolve 消解冲突并记录无效片段。重叠导致的丢弃只在调试级别记录。
func (r *ConflictResolver) Resolve(spans []Span, textLen int) (ResolvedSpanSet, []Rejection) {
	resolved, rejected := Resolve(spans, textLen)
	for _, rej := range rejected {
		if invalidReason(rej.Span, textLen) != "" {
			r.logger.Warn("rejected invalid span",
				zap.String("span", rej.Span.String()),
				zap.String("source", string(rej.Span.Source)),
				zap.String("reason", rej.Reason))
			continue
		}
		r.logger.Debug("dropped overlapping span",
			zap.String("span", rej.Span.String()),
			zap.String("reason", rej.Reason))
	}
	return resolved, rejected
}
