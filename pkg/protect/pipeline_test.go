package protect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenRe = regexp.MustCompile(`@@PHI_[A-Z0-9]+@@`)

// nameRecognizer 把 "Juan Pérez" 识别为人名
var nameRecognizer = stubRecognizer{entities: []Entity{
	{Label: "PER", Text: "Juan Pérez", Start: 10, End: 20, Confidence: 0.95},
}}

func newScenarioPipeline(t *testing.T, gw TranslationGateway, sink AuditSink) *Pipeline {
	t.Helper()
	catalog := curpCatalog(t)
	p, err := NewPipeline(PipelineConfig{
		Catalog: catalog,
		Detectors: []Detector{
			NewRuleDetector(catalog),
			NewEntityDetector("ner", nameRecognizer, 0),
		},
		Gateway:   gw,
		AuditSink: sink,
		Retry:     fastRetry,
	})
	require.NoError(t, err)
	return p
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Run("Identity Rewrite", func(t *testing.T) {
		var sent string
		gw := GatewayFunc(func(_ context.Context, text, _, _ string) (string, error) {
			sent = text
			return text, nil
		})
		sink := NewMemorySink()
		doc := NewDocument(sampleText, "es", "en")

		require.NoError(t, newScenarioPipeline(t, gw, sink).Process(context.Background(), doc))

		// 发往外部的文本只有两个令牌，不含 CURP 与姓名原文
		assert.Len(t, tokenRe.FindAllString(sent, -1), 2)
		assert.NotContains(t, sent, "BACJ800315HDFRRN09")
		assert.NotContains(t, sent, "Juan")
		assert.NotContains(t, sent, "Pérez")
		assert.Equal(t, sent, doc.TokenizedText)

		assert.Equal(t, sampleText, doc.RestoredText)
		assert.False(t, doc.Degraded())
		assert.NotEmpty(t, doc.ID)
	})

	t.Run("Reordering Rewrite", func(t *testing.T) {
		gw := GatewayFunc(func(_ context.Context, text, _, _ string) (string, error) {
			tokens := tokenRe.FindAllString(text, -1)
			if len(tokens) != 2 {
				return "", fmt.Errorf("expected 2 tokens, got %d", len(tokens))
			}
			return fmt.Sprintf("CURP %s belongs to patient %s, born 15/03/1980", tokens[1], tokens[0]), nil
		})
		doc := NewDocument(sampleText, "es", "en")

		require.NoError(t, newScenarioPipeline(t, gw, nil).Process(context.Background(), doc))
		assert.Equal(t, "CURP BACJ800315HDFRRN09 belongs to patient Juan Pérez, born 15/03/1980", doc.RestoredText)
	})

	t.Run("Audit Records Carry No Text", func(t *testing.T) {
		sink := NewMemorySink()
		doc := &Document{ID: "doc-1", RawText: sampleText, SourceLang: "es", TargetLang: "en"}
		p := newScenarioPipeline(t, IdentityGateway{}, sink)
		fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		p.Auditor().WithClock(func() time.Time { return fixed })

		require.NoError(t, p.Process(context.Background(), doc))

		records := sink.Records()
		require.Len(t, records, 4)
		assert.Equal(t, AuditRecord{DocumentID: "doc-1", Stage: StageDetected, SpanType: TypeCURP, Count: 1, Timestamp: fixed}, records[0])
		assert.Equal(t, AuditRecord{DocumentID: "doc-1", Stage: StageDetected, SpanType: TypeName, Count: 1, Timestamp: fixed}, records[1])
		assert.Equal(t, StageRestored, records[2].Stage)
		assert.Equal(t, StageRestored, records[3].Stage)
		for _, r := range records {
			assert.NotContains(t, fmt.Sprintf("%+v", r), "Juan")
			assert.NotContains(t, fmt.Sprintf("%+v", r), "BACJ")
		}
	})
}

func TestPipelineFailures(t *testing.T) {
	t.Run("Token Dropped By Rewriter", func(t *testing.T) {
		gw := GatewayFunc(func(_ context.Context, text, _, _ string) (string, error) {
			return strings.Replace(text, "@@PHI_0002@@", "", 1), nil
		})
		doc := NewDocument(sampleText, "es", "en")
		err := newScenarioPipeline(t, gw, nil).Process(context.Background(), doc)

		var perr *Error
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, KindRestorationIncomplete, perr.Kind)
		assert.Equal(t, doc.ID, perr.DocumentID)
		assert.Equal(t, stageRestore, perr.Stage)
		assert.Empty(t, doc.RestoredText)
		assert.Nil(t, doc.TokenMap)
		assert.NotContains(t, err.Error(), "Juan")
	})

	t.Run("Leak Stops Before Gateway", func(t *testing.T) {
		called := false
		gw := GatewayFunc(func(_ context.Context, text, _, _ string) (string, error) {
			called = true
			return text, nil
		})
		catalog := curpCatalog(t)
		// 只有实体检测器，CURP 规则只参与泄漏自检
		p, err := NewPipeline(PipelineConfig{
			Catalog:   catalog,
			Detectors: []Detector{NewEntityDetector("ner", nameRecognizer, 0)},
			Gateway:   gw,
		})
		require.NoError(t, err)

		doc := NewDocument(sampleText, "es", "en")
		err = p.Process(context.Background(), doc)
		assert.ErrorIs(t, err, ErrTokenLeakDetected)
		assert.False(t, called)
		assert.Empty(t, doc.TokenizedText)
		assert.Empty(t, doc.RestoredText)
	})

	t.Run("Degraded Detector Is Not Fatal", func(t *testing.T) {
		catalog := curpCatalog(t)
		sink := NewMemorySink()
		p, err := NewPipeline(PipelineConfig{
			Catalog: catalog,
			Detectors: []Detector{
				NewRuleDetector(catalog),
				NewEntityDetector("ner", stubRecognizer{err: errors.New("timeout")}, 0),
			},
			Gateway:   IdentityGateway{},
			AuditSink: sink,
		})
		require.NoError(t, err)

		doc := NewDocument("CURP BACJ800315HDFRRN09", "es", "en")
		require.NoError(t, p.Process(context.Background(), doc))
		assert.True(t, doc.Degraded())
		assert.Equal(t, "CURP BACJ800315HDFRRN09", doc.RestoredText)

		records := sink.Records()
		require.NotEmpty(t, records)
		assert.Equal(t, StageDegraded, records[0].Stage)
		assert.Equal(t, "ner", records[0].Detector)
	})

	t.Run("Canceled Before Start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		doc := NewDocument(sampleText, "es", "en")
		err := newScenarioPipeline(t, IdentityGateway{}, nil).Process(ctx, doc)
		assert.ErrorIs(t, err, ErrCanceled)
		assert.Empty(t, doc.RestoredText)
	})

	t.Run("Canceled During Translation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		gw := GatewayFunc(func(_ context.Context, text, _, _ string) (string, error) {
			cancel()
			return text, nil
		})
		doc := NewDocument(sampleText, "es", "en")
		err := newScenarioPipeline(t, gw, nil).Process(ctx, doc)
		assert.ErrorIs(t, err, ErrCanceled)
		assert.Equal(t, stageRestore, stageOf(err))
		assert.Empty(t, doc.RestoredText)
	})

	t.Run("Gateway Refusal", func(t *testing.T) {
		gw := GatewayFunc(func(context.Context, string, string, string) (string, error) {
			return "", &backendError{retry: false}
		})
		doc := NewDocument(sampleText, "es", "en")
		err := newScenarioPipeline(t, gw, nil).Process(context.Background(), doc)
		assert.ErrorIs(t, err, ErrGatewayResponse)
		assert.Equal(t, stageTranslate, stageOf(err))
	})

	t.Run("Audit Sink Failure", func(t *testing.T) {
		doc := NewDocument(sampleText, "es", "en")
		err := newScenarioPipeline(t, IdentityGateway{}, failingSink{}).Process(context.Background(), doc)
		assert.ErrorIs(t, err, ErrAuditUnavailable)
		assert.Empty(t, doc.RestoredText)
	})

	t.Run("Nil Document", func(t *testing.T) {
		err := newScenarioPipeline(t, IdentityGateway{}, nil).Process(context.Background(), nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

type failingSink struct{}

func (failingSink) Append(context.Context, AuditRecord) error {
	return errors.New("disk full")
}

func TestNewPipelineValidation(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{Gateway: IdentityGateway{}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewPipeline(PipelineConfig{Catalog: MustDefaultCatalog()})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPipelineProtect(t *testing.T) {
	called := false
	gw := GatewayFunc(func(_ context.Context, text, _, _ string) (string, error) {
		called = true
		return text, nil
	})
	sink := NewMemorySink()
	doc := NewDocument(sampleText, "es", "en")

	require.NoError(t, newScenarioPipeline(t, gw, sink).Protect(context.Background(), doc))
	assert.False(t, called)
	assert.Equal(t, "Paciente: @@PHI_0001@@, CURP @@PHI_0002@@, nació 15/03/1980", doc.TokenizedText)
	require.NotNil(t, doc.TokenMap)
	assert.Equal(t, 2, doc.TokenMap.Len())
	assert.Empty(t, doc.RestoredText)

	// 只有检测阶段的审计
	for _, r := range sink.Records() {
		assert.Equal(t, StageDetected, r.Stage)
	}

	assert.ErrorIs(t, newScenarioPipeline(t, gw, nil).Protect(context.Background(), nil), ErrInvalidInput)
}
