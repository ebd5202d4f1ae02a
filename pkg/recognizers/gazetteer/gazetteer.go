// Package gazetteer 基于人名词典的离线实体识别器，在没有 NER 服务时补充人名检测。
package gazetteer

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

//go:embed names.txt
var defaultNames string

// DefaultConfidence 词典命中的默认置信度
const DefaultConfidence = 0.7

// maxFollowers 人名之后最多连带的大写词
const maxFollowers = 4

// 人名内部允许的小写连接词
var connectors = map[string]bool{"de": true, "del": true, "la": true, "los": true}

// Recognizer 词典识别器。词典只读，可并发使用。
type Recognizer struct {
	names      map[string]struct{}
	confidence float64
}

var _ protect.EntityRecognizer = (*Recognizer)(nil)

// New 从名字列表创建识别器
func New(names []string, confidence float64) *Recognizer {
	if confidence <= 0 || confidence > 1 {
		confidence = DefaultConfidence
	}
	r := &Recognizer{names: make(map[string]struct{}, len(names)), confidence: confidence}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			r.names[Fold(n)] = struct{}{}
		}
	}
	return r
}

// Default 使用内置词典
func Default() *Recognizer {
	names, _ := readNames(strings.NewReader(defaultNames))
	return New(names, DefaultConfidence)
}

// Load 从文件加载词典，每行一个名字，# 开头为注释
func Load(path string, confidence float64) (*Recognizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gazetteer: %w", err)
	}
	defer f.Close()

	names, err := readNames(f)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer %s: %w", path, err)
	}
	return New(names, confidence), nil
}

func readNames(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names, scanner.Err()
}

// Len 词典大小
func (r *Recognizer) Len() int {
	return len(r.names)
}

// Contains 名字是否在词典中，忽略大小写与重音
func (r *Recognizer) Contains(name string) bool {
	_, ok := r.names[Fold(name)]
	return ok
}

// Recognize 找出以词典人名开头、后接大写词的序列，标签为 PER
func (r *Recognizer) Recognize(ctx context.Context, text string) ([]protect.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	words := splitWords(runes)

	var entities []protect.Entity
	for i := 0; i < len(words); i++ {
		w := words[i]
		if !capitalized(runes, w) || !r.Contains(string(runes[w.start:w.end])) {
			continue
		}

		last := i
		for j := i + 1; j < len(words) && j-i <= maxFollowers+1; j++ {
			if !spaceBetween(runes, words[j-1], words[j]) {
				break
			}
			cw := words[j]
			if capitalized(runes, cw) {
				last = j
				continue
			}
			if !connectors[string(runes[cw.start:cw.end])] {
				break
			}
		}
		if last == i {
			continue
		}

		start, end := w.start, words[last].end
		entities = append(entities, protect.Entity{
			Label:      "PER",
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
			Confidence: r.confidence,
		})
		i = last
	}
	return entities, nil
}

// Fold 大小写折叠并去除重音，用于词典比对
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

type wordRange struct {
	start, end int
}

// splitWords 按码点切词，词内允许连字符与撇号
func splitWords(rs []rune) []wordRange {
	var words []wordRange
	start := -1
	for i, c := range rs {
		inner := (c == '-' || c == '\'') && start >= 0 && i+1 < len(rs) && unicode.IsLetter(rs[i+1])
		if unicode.IsLetter(c) || inner {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			words = append(words, wordRange{start, i})
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, wordRange{start, len(rs)})
	}
	return words
}

func capitalized(rs []rune, w wordRange) bool {
	return unicode.IsUpper(rs[w.start])
}

// spaceBetween 两个词之间只有空白
func spaceBetween(rs []rune, a, b wordRange) bool {
	if b.start == a.end {
		return false
	}
	for _, c := range rs[a.end:b.start] {
		if c != ' ' && c != '\t' {
			return false
		}
	}
	return true
}
