package ontology

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

const glossaryCSV = `es_term,en_term,category,source,concept_id
dolor torácico,chest pain,symptom,UMLS,C0008031
diabetes mellitus,diabetes mellitus,disease,UMLS,C0011849
# comentario
hipertensión arterial,hypertension,disease,manual
infarto,myocardial infarction,disease,manual
infarto,infarction,disease,manual
`

func TestReadGlossary(t *testing.T) {
	entries, err := ReadGlossary(strings.NewReader(glossaryCSV))
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, Entry{Term: "dolor torácico", PreferredTerm: "chest pain", Category: "symptom", Source: "UMLS", ConceptID: "C0008031"}, entries[0])
	assert.Empty(t, entries[2].ConceptID)

	_, err = ReadGlossary(strings.NewReader("solo\n"))
	assert.Error(t, err)
}

func TestGlossaryLookup(t *testing.T) {
	entries, err := ReadGlossary(strings.NewReader(glossaryCSV))
	require.NoError(t, err)
	g := NewGlossary("es", entries)
	assert.Equal(t, 4, g.Len())
	ctx := context.Background()

	c, ok, err := g.Lookup(ctx, "Dolor  Toracico", "es-MX")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "chest pain", c.PreferredTerm)
	assert.Equal(t, "C0008031", c.ID)

	// 重复术语保留第一条
	c, ok, _ = g.Lookup(ctx, "infarto", "es")
	require.True(t, ok)
	assert.Equal(t, "myocardial infarction", c.PreferredTerm)

	_, ok, _ = g.Lookup(ctx, "dolor torácico", "pt")
	assert.False(t, ok)
	_, ok, _ = g.Lookup(ctx, "cefalea", "es")
	assert.False(t, ok)
}

func TestLoadGlossaryDrivesTerminologyDetector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glossary.csv")
	require.NoError(t, os.WriteFile(path, []byte(glossaryCSV), 0o644))
	g, err := LoadGlossary(path, "es")
	require.NoError(t, err)

	text := "Refiere dolor torácico e hipertensión arterial."
	spans, err := protect.NewTerminologyDetector(g, "es", 4).Detect(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "chest pain", spans[0].TargetTerm)
	assert.Equal(t, "hypertension", spans[1].TargetTerm)
}

func TestChain(t *testing.T) {
	first := NewGlossary("es", []Entry{{Term: "fiebre", PreferredTerm: "fever"}})
	second := NewGlossary("es", []Entry{{Term: "fiebre", PreferredTerm: "pyrexia"}, {Term: "tos", PreferredTerm: "cough"}})
	chain := Chain{first, second}

	c, ok, err := chain.Lookup(context.Background(), "fiebre", "es")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fever", c.PreferredTerm)

	c, ok, _ = chain.Lookup(context.Background(), "TOS", "es")
	require.True(t, ok)
	assert.Equal(t, "cough", c.PreferredTerm)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "dolor toracico", Normalize("  DOLOR\tTorácico "))
	assert.Equal(t, "es", normalizeLang("es_MX"))
}
