package protect

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// stubRecognizer 固定返回的实体识别器
type stubRecognizer struct {
	entities []Entity
	err      error
}

func (s stubRecognizer) Recognize(_ context.Context, _ string) ([]Entity, error) {
	return s.entities, s.err
}

// panicDetector 总是 panic 的检测器
type panicDetector struct{}

func (panicDetector) Name() string { return "broken" }

func (panicDetector) Detect(context.Context, string) ([]Span, error) {
	panic("index out of range")
}

// mapLookup 基于 map 的本体查询
type mapLookup map[string]Concept

func (m mapLookup) Lookup(_ context.Context, term, _ string) (Concept, bool, error) {
	c, ok := m[strings.ToLower(term)]
	return c, ok, nil
}

func TestEntityDetector(t *testing.T) {
	text := "Paciente: Juan Pérez en Guadalajara, IMSS"
	rec := stubRecognizer{entities: []Entity{
		{Label: "PER", Text: "Juan Pérez", Start: 10, End: 20, Confidence: 0.92},
		{Label: "GPE", Text: "Guadalajara", Start: 24, End: 35, Confidence: 0.8},
		{Label: "ORG", Text: "IMSS", Start: 37, End: 41, Confidence: 0.3},
		{Label: "PER", Text: "Pedro", Start: 10, End: 15, Confidence: 0.9},
		{Label: "EVENT", Text: "Paciente", Start: 0, End: 8, Confidence: 0.7},
		{Label: "PER", Text: "x", Start: 40, End: 99, Confidence: 0.9},
	}}

	spans, err := NewEntityDetector("", rec, 0.5).Detect(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, spans, 3)

	assert.Equal(t, TypeName, spans[0].Type)
	assert.Equal(t, SourceModel, spans[0].Source)
	assert.Equal(t, 0.92, spans[0].Confidence)
	assert.Equal(t, TypeLocation, spans[1].Type)
	assert.Equal(t, TypeMisc, spans[2].Type)
}

func TestMapEntityLabel(t *testing.T) {
	tests := map[string]Type{
		"PER":          TypeName,
		"person":       TypeName,
		"LOC":          TypeLocation,
		"GPE":          TypeLocation,
		"ORG":          TypeOrganization,
		"ORGANIZATION": TypeOrganization,
		"DATE":         TypeMisc,
		"":             TypeMisc,
	}
	for label, want := range tests {
		assert.Equal(t, want, MapEntityLabel(label), label)
	}
}

func TestTerminologyDetector(t *testing.T) {
	lookup := mapLookup{
		"dolor":              {ID: "C0030193", PreferredTerm: "pain"},
		"dolor torácico":     {ID: "C0008031", PreferredTerm: "chest pain"},
		"diabetes mellitus":  {ID: "C0011849", PreferredTerm: "diabetes mellitus"},
		"infarto":            {ID: "C0021308", PreferredTerm: "infarction"},
		"no-existe-en-texto": {ID: "X"},
	}
	text := "Refiere dolor torácico y diabetes mellitus tipo 2."

	spans, err := NewTerminologyDetector(lookup, "es", 3).Detect(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, spans, 2)

	assert.Equal(t, "dolor torácico", spans[0].Text)
	assert.Equal(t, "C0008031", spans[0].ConceptID)
	assert.Equal(t, "chest pain", spans[0].TargetTerm)
	assert.Equal(t, CategoryAnchor, spans[0].Category)
	assert.Equal(t, SourceOntology, spans[0].Source)

	runes := []rune(text)
	assert.Equal(t, "diabetes mellitus", string(runes[spans[1].Start:spans[1].End]))
}

func TestSpanDetectorDegradation(t *testing.T) {
	text := "CURP BACJ800315HDFRRN09"
	rules := NewRuleDetector(curpCatalog(t))
	failing := NewEntityDetector("ner", stubRecognizer{err: errors.New("sidecar unavailable")}, 0)

	detector := NewSpanDetector(nil, rules, panicDetector{}, failing)
	assert.Equal(t, []string{"rules", "broken", "ner"}, detector.Detectors())

	spans, reports := detector.Detect(context.Background(), text)
	require.Len(t, spans, 1)
	assert.Equal(t, TypeCURP, spans[0].Type)

	require.Len(t, reports, 2)
	assert.Equal(t, "broken", reports[0].Detector)
	assert.Equal(t, KindDetectionDegraded, reports[0].Kind)
	assert.Contains(t, reports[0].Err.Error(), "panicked")
	assert.Equal(t, "ner", reports[1].Detector)
}

func TestSpanDetectorConcatenatesInOrder(t *testing.T) {
	text := "Paciente: Juan Pérez, CURP BACJ800315HDFRRN09"
	rec := stubRecognizer{entities: []Entity{{Label: "PER", Text: "Juan Pérez", Start: 10, End: 20, Confidence: 0.9}}}

	detector := NewSpanDetector(nil, NewEntityDetector("ner", rec, 0), NewRuleDetector(curpCatalog(t)))
	for i := 0; i < 10; i++ {
		spans, reports := detector.Detect(context.Background(), text)
		assert.Empty(t, reports)
		require.Len(t, spans, 2)
		assert.Equal(t, SourceModel, spans[0].Source)
		assert.Equal(t, SourceRule, spans[1].Source)
	}
}

// backtrackingCatalog 含一条会灾难性回溯的规则，超时缩短到毫秒级
func backtrackingCatalog(t *testing.T) *PatternCatalog {
	t.Helper()
	catalog, err := NewCatalog([]RuleSpec{{
		Name:    "backtrack",
		Type:    TypeMisc,
		Pattern: `^(\w+\s?)+$`,
	}})
	require.NoError(t, err)
	catalog.rules[0].re.MatchTimeout = 20 * time.Millisecond
	return catalog
}

func TestRuleTimeoutCarriesNoText(t *testing.T) {
	text := "Paciente Juan Perez CURP BACJ800315HDFRRN09 " + strings.Repeat("a", 64) + "!"
	catalog := backtrackingCatalog(t)

	t.Run("Detection Report", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		detector := NewSpanDetector(zap.New(core), NewRuleDetector(catalog))

		spans, reports := detector.Detect(context.Background(), text)
		assert.Empty(t, spans)
		require.Len(t, reports, 1)
		assert.Equal(t, KindDetectionDegraded, reports[0].Kind)
		assert.ErrorIs(t, reports[0].Err, errMatchTimeout)
		assert.Contains(t, reports[0].Err.Error(), "rule backtrack")
		assert.NotContains(t, reports[0].Err.Error(), "BACJ800315HDFRRN09")
		assert.NotContains(t, reports[0].Err.Error(), "Juan")

		for _, entry := range logs.All() {
			for _, field := range entry.Context {
				assert.NotContains(t, field.String, "BACJ800315HDFRRN09")
				if err, ok := field.Interface.(error); ok {
					assert.NotContains(t, err.Error(), "BACJ800315HDFRRN09")
				}
			}
		}
	})

	t.Run("Leak Check", func(t *testing.T) {
		_, _, err := newTestTokenizer(t, catalog).Tokenize(text, nil)
		assert.ErrorIs(t, err, ErrTokenLeakDetected)
		for e := err; e != nil; e = errors.Unwrap(e) {
			assert.NotContains(t, e.Error(), "BACJ800315HDFRRN09")
			assert.NotContains(t, e.Error(), "Juan")
		}
	})
}
