package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNote = "Paciente: Juan Pérez, CURP BACJ800315HDFRRN09, nació 15/03/1980"

// writeConfig 写入使用 identity 后端的临时配置
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	cfg := `source_lang: es
target_lang: en
provider:
  name: identity
audit:
  sink: jsonl
  path: ` + filepath.Join(dir, "audit.jsonl") + `
log:
  output_paths: ["` + filepath.Join(dir, "phiguard.log") + `"]
` + extra
	path := filepath.Join(dir, "phiguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand("test", "none", "unknown")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestTranslateCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")

	t.Run("Stdin To Stdout", func(t *testing.T) {
		out, _, err := execute(t, sampleNote, "--config", cfg, "translate", "--quiet")
		require.NoError(t, err)
		assert.Equal(t, sampleNote, out)
	})

	t.Run("Files To Output Dir", func(t *testing.T) {
		a := filepath.Join(dir, "a.txt")
		b := filepath.Join(dir, "b.txt")
		require.NoError(t, os.WriteFile(a, []byte(sampleNote), 0o644))
		require.NoError(t, os.WriteFile(b, []byte("Sin datos protegidos."), 0o644))
		outDir := filepath.Join(dir, "out")

		_, stderr, err := execute(t, "", "--config", cfg, "translate", "-o", outDir, a, b)
		require.NoError(t, err)

		got, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, sampleNote, string(got))
		got, err = os.ReadFile(filepath.Join(outDir, "b.txt"))
		require.NoError(t, err)
		assert.Equal(t, "Sin datos protegidos.", string(got))

		// 汇总表不含原文
		assert.Contains(t, stderr, "STATUS")
		assert.NotContains(t, stderr, "BACJ800315HDFRRN09")
	})

	t.Run("Windows-1252 Input With Progress", func(t *testing.T) {
		// "nació" 在 Windows-1252 中 ó 为 0xF3
		latin := []byte("CURP BACJ800315HDFRRN09, naci\xf3 15/03/1980")
		path := filepath.Join(dir, "legacy.txt")
		require.NoError(t, os.WriteFile(path, latin, 0o644))

		out, _, err := execute(t, "", "--config", cfg, "translate", "--quiet", "--progress", path)
		require.NoError(t, err)
		assert.Equal(t, "CURP BACJ800315HDFRRN09, nació 15/03/1980", out)
	})

	t.Run("Multiple Inputs Need Output Dir", func(t *testing.T) {
		_, _, err := execute(t, "", "--config", cfg, "translate", "x.txt", "y.txt")
		assert.Error(t, err)
	})

	t.Run("Duplicate Output Names", func(t *testing.T) {
		first := filepath.Join(dir, "ward1", "note.txt")
		second := filepath.Join(dir, "ward2", "note.txt")
		for _, p := range []string{first, second} {
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
			require.NoError(t, os.WriteFile(p, []byte("Sin datos protegidos."), 0o644))
		}
		outDir := filepath.Join(dir, "dup-out")

		_, _, err := execute(t, "", "--config", cfg, "translate", "-o", outDir, first, second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "note.txt")
		assert.NoDirExists(t, outDir)
	})

	t.Run("Unknown Provider", func(t *testing.T) {
		_, _, err := execute(t, sampleNote, "--config", cfg, "translate", "--provider", "nope")
		assert.Error(t, err)
	})

	t.Run("Audit Log Carries No Text", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "CURP")
		assert.NotContains(t, string(data), "BACJ800315HDFRRN09")
		assert.NotContains(t, string(data), "Juan")
	})

	t.Run("Audit Stats", func(t *testing.T) {
		out, _, err := execute(t, "", "--config", cfg, "audit", "stats")
		require.NoError(t, err)
		assert.Contains(t, out, "CURP")
		assert.Contains(t, out, "documents: 3")
	})
}

func TestDetectCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")

	out, _, err := execute(t, sampleNote, "--config", cfg, "detect", "--tokenized")
	require.NoError(t, err)
	assert.Contains(t, out, "CURP")
	assert.Contains(t, out, "@@PHI_0001@@")
	assert.NotContains(t, out, "BACJ800315HDFRRN09")

	// detect 未配置审计存储
	_, err = os.Stat(filepath.Join(dir, "audit.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func TestCatalogCheckCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")

	out, _, err := execute(t, "", "--config", cfg, "catalog", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "curp")
	assert.Contains(t, out, "patient-name")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rules:\n  - name: broken\n    type: CURP\n    category: redact\n    pattern: \"(\"\n"), 0o644))
	_, _, err = execute(t, "", "--config", cfg, "catalog", "check", bad)
	assert.Error(t, err)
}

func TestOntologyCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	csvPath := filepath.Join(dir, "glossary.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("es_term,en_term,category,source,concept_id\ninfarto agudo de miocardio,acute myocardial infarction,disorder,MSHSPA,C0155626\n"), 0o644))
	db := filepath.Join(dir, "concepts.db")

	out, _, err := execute(t, "", "--config", cfg, "ontology", "import", csvPath, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 concepts")

	out, _, err = execute(t, "", "--config", cfg, "ontology", "lookup", "Infarto agudo de miocardio", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "C0155626\tacute myocardial infarction\n", out)

	_, _, err = execute(t, "", "--config", cfg, "ontology", "lookup", "cefalea", "--db", db)
	assert.Error(t, err)
}

func TestTerminologyAnchoring(t *testing.T) {
	dir := t.TempDir()
	glossary := filepath.Join(dir, "glossary.csv")
	require.NoError(t, os.WriteFile(glossary, []byte("dolor torácico,chest pain,finding,MSHSPA,C0008031\n"), 0o644))
	cfg := writeConfig(t, dir, "detection:\n  terminology: true\nontology:\n  glossary: "+glossary+"\n")

	out, _, err := execute(t, "Refiere dolor torácico.", "--config", cfg, "detect")
	require.NoError(t, err)
	assert.Contains(t, out, "MEDICAL_TERM")
	assert.Contains(t, out, "anchor")
}

func TestProvidersCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")

	out, _, err := execute(t, "", "--config", cfg, "providers")
	require.NoError(t, err)
	for _, name := range []string{"identity", "libretranslate", "deepl", "deeplx", "google", "ollama", "openai"} {
		assert.Contains(t, out, name)
	}
}

func TestProviderStats(t *testing.T) {
	dir := t.TempDir()
	statsPath := filepath.Join(dir, "providers.json")
	cfg := writeConfig(t, dir, "")
	cfg2 := filepath.Join(dir, "with-stats.yaml")
	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	data = []byte(strings.Replace(string(data), "  name: identity\n", "  name: identity\n  stats_path: "+statsPath+"\n", 1))
	require.NoError(t, os.WriteFile(cfg2, data, 0o644))

	_, _, err = execute(t, sampleNote, "--config", cfg2, "translate", "--quiet")
	require.NoError(t, err)
	_, _, err = execute(t, sampleNote, "--config", cfg2, "translate", "--quiet")
	require.NoError(t, err)

	out, _, err := execute(t, "", "--config", cfg2, "providers", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "identity")
	assert.Contains(t, out, "100.0")
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  name: carrier-pigeon\n"), 0o644))

	_, _, err := execute(t, "", "--config", path, "providers")
	assert.Error(t, err)
}
