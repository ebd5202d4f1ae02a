// Package ontology 提供只读的术语查询实现：CSV 词表与 SQLite 概念库。
package ontology

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

// Entry 词表条目
type Entry struct {
	Term          string
	PreferredTerm string
	Category      string
	Source        string
	ConceptID     string
}

// Glossary 内存词表，加载后只读
type Glossary struct {
	lang    string
	entries map[string]protect.Concept
}

var _ protect.OntologyLookup = (*Glossary)(nil)

// NewGlossary 用条目构造词表，lang 为术语所属语言。重复术语保留第一条。
func NewGlossary(lang string, entries []Entry) *Glossary {
	g := &Glossary{lang: normalizeLang(lang), entries: make(map[string]protect.Concept, len(entries))}
	for _, e := range entries {
		key := Normalize(e.Term)
		if key == "" || strings.TrimSpace(e.PreferredTerm) == "" {
			continue
		}
		if _, exists := g.entries[key]; exists {
			continue
		}
		g.entries[key] = protect.Concept{
			ID:            e.ConceptID,
			PreferredTerm: strings.TrimSpace(e.PreferredTerm),
			Category:      e.Category,
			Source:        e.Source,
		}
	}
	return g
}

// LoadGlossary 读取 CSV 词表文件
func LoadGlossary(path, lang string) (*Glossary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open glossary: %w", err)
	}
	defer f.Close()

	entries, err := ReadGlossary(f)
	if err != nil {
		return nil, fmt.Errorf("read glossary %s: %w", path, err)
	}
	return NewGlossary(lang, entries), nil
}

// ReadGlossary 解析 CSV：es_term,en_term,category,source[,concept_id]，首行表头可选
func ReadGlossary(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var entries []Entry
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "es_term") {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected at least 2 fields, got %d", line, len(record))
		}
		e := Entry{Term: record[0], PreferredTerm: record[1]}
		if len(record) > 2 {
			e.Category = strings.TrimSpace(record[2])
		}
		if len(record) > 3 {
			e.Source = strings.TrimSpace(record[3])
		}
		if len(record) > 4 {
			e.ConceptID = strings.TrimSpace(record[4])
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Len 条目数
func (g *Glossary) Len() int {
	return len(g.entries)
}

// Lookup 实现 protect.OntologyLookup
func (g *Glossary) Lookup(ctx context.Context, term, lang string) (protect.Concept, bool, error) {
	if err := ctx.Err(); err != nil {
		return protect.Concept{}, false, err
	}
	if lang != "" && g.lang != "" && normalizeLang(lang) != g.lang {
		return protect.Concept{}, false, nil
	}
	c, ok := g.entries[Normalize(term)]
	return c, ok, nil
}

// Chain 依次查询多个来源，返回第一个命中
type Chain []protect.OntologyLookup

// Lookup 实现 protect.OntologyLookup
func (c Chain) Lookup(ctx context.Context, term, lang string) (protect.Concept, bool, error) {
	for _, l := range c {
		concept, ok, err := l.Lookup(ctx, term, lang)
		if err != nil {
			return protect.Concept{}, false, err
		}
		if ok {
			return concept, true, nil
		}
	}
	return protect.Concept{}, false, nil
}
