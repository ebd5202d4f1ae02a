// Package audit 持久化审计记录。记录只含文档 ID、类型与计数，从不含原文。
package audit

import (
	"sort"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

// TypeTotal 单个类型的累计计数
type TypeTotal struct {
	Type     protect.Type
	Detected int
	Restored int
}

// Summary 审计汇总
type Summary struct {
	Records   int
	Documents int
	Restored  int
	Degraded  map[string]int
	Types     []TypeTotal
}

// Summarize 汇总记录，类型按优先级排序
func Summarize(records []protect.AuditRecord) Summary {
	s := Summary{Records: len(records), Degraded: make(map[string]int)}
	docs := make(map[string]struct{})
	restoredDocs := make(map[string]struct{})
	totals := make(map[protect.Type]*TypeTotal)

	for _, r := range records {
		docs[r.DocumentID] = struct{}{}
		switch r.Stage {
		case protect.StageDegraded:
			s.Degraded[r.Detector]++
			continue
		case protect.StageRestored:
			restoredDocs[r.DocumentID] = struct{}{}
		}
		if r.SpanType == "" {
			continue
		}
		t, ok := totals[r.SpanType]
		if !ok {
			t = &TypeTotal{Type: r.SpanType}
			totals[r.SpanType] = t
		}
		if r.Stage == protect.StageDetected {
			t.Detected += r.Count
		} else {
			t.Restored += r.Count
		}
	}

	s.Documents = len(docs)
	s.Restored = len(restoredDocs)
	for _, t := range totals {
		s.Types = append(s.Types, *t)
	}
	sort.Slice(s.Types, func(i, j int) bool {
		pi, pj := protect.TypePriority(s.Types[i].Type), protect.TypePriority(s.Types[j].Type)
		if pi != pj {
			return pi < pj
		}
		return s.Types[i].Type < s.Types[j].Type
	})
	return s
}
