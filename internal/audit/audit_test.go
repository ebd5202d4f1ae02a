package audit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleRecords() []protect.AuditRecord {
	return []protect.AuditRecord{
		{DocumentID: "a", Stage: protect.StageDegraded, Detector: "ner", Timestamp: ts},
		{DocumentID: "a", Stage: protect.StageDetected, SpanType: protect.TypeCURP, Count: 1, Timestamp: ts},
		{DocumentID: "a", Stage: protect.StageDetected, SpanType: protect.TypeName, Count: 2, Timestamp: ts},
		{DocumentID: "a", Stage: protect.StageRestored, SpanType: protect.TypeCURP, Count: 1, Timestamp: ts},
		{DocumentID: "a", Stage: protect.StageRestored, SpanType: protect.TypeName, Count: 2, Timestamp: ts},
		{DocumentID: "b", Stage: protect.StageDetected, SpanType: protect.TypeName, Count: 1, Timestamp: ts},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRecords())
	assert.Equal(t, 6, s.Records)
	assert.Equal(t, 2, s.Documents)
	assert.Equal(t, 1, s.Restored)
	assert.Equal(t, map[string]int{"ner": 1}, s.Degraded)
	require.Len(t, s.Types, 2)
	// CURP 优先级高于姓名
	assert.Equal(t, TypeTotal{Type: protect.TypeCURP, Detected: 1, Restored: 1}, s.Types[0])
	assert.Equal(t, TypeTotal{Type: protect.TypeName, Detected: 3, Restored: 2}, s.Types[1])
}

func TestBoltSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := OpenBolt(path)
	require.NoError(t, err)

	for _, rec := range sampleRecords() {
		require.NoError(t, sink.Append(context.Background(), rec))
	}
	require.NoError(t, sink.Close())

	sink, err = OpenBolt(path)
	require.NoError(t, err)
	defer sink.Close()

	records, err := sink.Records()
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), records)

	stats, err := sink.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
}

func TestBoltSinkWithPipeline(t *testing.T) {
	sink, err := OpenBolt(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer sink.Close()

	p, err := protect.NewPipeline(protect.PipelineConfig{
		Catalog:   protect.MustDefaultCatalog(),
		Gateway:   protect.IdentityGateway{},
		AuditSink: sink,
	})
	require.NoError(t, err)

	text := "CURP BACJ800315HDFRRN09"
	doc := protect.NewDocument(text, "es", "en")
	require.NoError(t, p.Process(context.Background(), doc))

	records, err := sink.Records()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Equal(t, doc.ID, r.DocumentID)
	}
}

func TestJSONLSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := OpenJSONL(path)
	require.NoError(t, err)
	for _, rec := range sampleRecords() {
		require.NoError(t, sink.Append(context.Background(), rec))
	}
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(string(data), "\n"))

	records, err := ReadJSONL(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), records)

	_, err = ReadJSONL(strings.NewReader("{bad\n"))
	assert.Error(t, err)
}

func TestJSONLSinkToWriter(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONL(&buf)
	rec := protect.AuditRecord{DocumentID: "x", Stage: protect.StageDetected, SpanType: protect.TypeEmail, Count: 3, Timestamp: ts}
	require.NoError(t, sink.Append(context.Background(), rec))
	assert.JSONEq(t, `{"document_id":"x","stage":"detected","span_type":"EMAIL","count":3,"timestamp":"2024-05-01T12:00:00Z"}`, strings.TrimSpace(buf.String()))
	assert.NoError(t, sink.Close())
}
