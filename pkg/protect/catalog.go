package protect

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/dlclark/regexp2"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed catalog/default.yaml
var defaultCatalogYAML []byte

// DefaultConnectors 关键词与参数之间允许出现的连接词（介词、冠词）
var DefaultConnectors = []string{
	"de", "del", "la", "las", "el", "los", "a", "al", "en", "y",
	"of", "the", "on", "at",
}

// defaultMatchTimeout 单次匹配的超时，防止灾难性回溯
const defaultMatchTimeout = 2 * time.Second

// errMatchTimeout 规则匹配超时。regexp2 的原始错误带有整段输入，不能向外传递。
var errMatchTimeout = errors.New("match timeout")

// RuleSpec 规则配置（YAML）
type RuleSpec struct {
	Name       string   `yaml:"name" validate:"required"`
	Type       Type     `yaml:"type" validate:"required"`
	Pattern    string   `yaml:"pattern" validate:"required_without=Argument,excluded_with=Argument"`
	Keywords   []string `yaml:"keywords" validate:"required_with=Argument,dive,required"`
	Argument   string   `yaml:"argument"`
	Connectors []string `yaml:"connectors" validate:"dive,required"`
	Priority   int      `yaml:"priority" validate:"gte=0"`
	Category   Category `yaml:"category" validate:"required,oneof=redact anchor"`
	// Confidence 只对 anchor 规则生效，redact 规则恒为 1.0
	Confidence float64    `yaml:"confidence" validate:"gte=0,lte=1"`
	FormatHint FormatHint `yaml:"format_hint" validate:"omitempty,oneof=NONE DATE_DMY DATE_MDY DATE_YMD PHONE NAME"`
	IgnoreCase bool       `yaml:"ignore_case"`
	// Span 取 "value"（默认，取 value 分组或第一个分组）或 "match"（整个匹配）
	Span string `yaml:"span" validate:"omitempty,oneof=value match"`
}

// catalogFile 规则目录文件
type catalogFile struct {
	Version    int        `yaml:"version"`
	Connectors []string   `yaml:"connectors" validate:"dive,required"`
	Rules      []RuleSpec `yaml:"rules" validate:"required,min=1,dive"`
}

// Rule 编译后的规则
type Rule struct {
	spec       RuleSpec
	re         *regexp2.Regexp
	valueGroup string
	valueIndex int
}

// Name 规则名
func (r *Rule) Name() string { return r.spec.Name }

// Type 规则产生的片段类型
func (r *Rule) Type() Type { return r.spec.Type }

// Category 规则类别
func (r *Rule) Category() Category { return r.spec.Category }

// Priority 规则优先级；未配置时取类型默认优先级
func (r *Rule) Priority() int {
	if r.spec.Priority > 0 {
		return r.spec.Priority
	}
	return TypePriority(r.spec.Type)
}

// Confidence 规则片段的置信度
func (r *Rule) Confidence() float64 {
	if r.spec.Category == CategoryAnchor && r.spec.Confidence > 0 {
		return r.spec.Confidence
	}
	return 1.0
}

// FormatHint 规则指定的格式提示
func (r *Rule) FormatHint() FormatHint { return r.spec.FormatHint }

// Expr 编译使用的正则表达式
func (r *Rule) Expr() string { return r.re.String() }

// match 一次规则匹配，偏移量为码点
type match struct {
	start, end       int
	valStart, valEnd int
	value            string
}

// scan 从 startAt 开始查找匹配。fn 返回下一次查找的起点，返回负数时停止。
func (r *Rule) scan(runes []rune, startAt int, fn func(m match) int) error {
	for startAt <= len(runes) {
		m, err := r.re.FindRunesMatchStartingAt(runes, startAt)
		if err != nil {
			return fmt.Errorf("rule %s: %w after %v", r.spec.Name, errMatchTimeout, r.re.MatchTimeout)
		}
		if m == nil {
			return nil
		}
		cur := match{start: m.Index, end: m.Index + m.Length}
		cur.valStart, cur.valEnd, cur.value = cur.start, cur.end, m.String()
		if r.spec.Span != "match" {
			var g *regexp2.Group
			if r.valueGroup != "" {
				g = m.GroupByName(r.valueGroup)
			} else if r.valueIndex > 0 {
				g = m.GroupByNumber(r.valueIndex)
			}
			if g != nil {
				if len(g.Captures) == 0 {
					cur.valStart, cur.valEnd, cur.value = cur.start, cur.start, ""
				} else {
					cur.valStart, cur.valEnd, cur.value = g.Index, g.Index+g.Length, g.String()
				}
			}
		}
		next := fn(cur)
		if next < 0 {
			return nil
		}
		if next <= startAt {
			next = startAt + 1
		}
		startAt = next
	}
	return nil
}

// PatternCatalog 不可变的规则目录，进程启动时加载一次
type PatternCatalog struct {
	rules []*Rule
}

// Rules 返回规则副本
func (c *PatternCatalog) Rules() []*Rule {
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Len 规则数量
func (c *PatternCatalog) Len() int { return len(c.rules) }

// MatchesAny 判断字符串是否被任一规则匹配
func (c *PatternCatalog) MatchesAny(s string) bool {
	runes := []rune(s)
	for _, r := range c.rules {
		found := false
		err := r.scan(runes, 0, func(match) int {
			found = true
			return -1
		})
		// 无法判定时按匹配处理
		if err != nil || found {
			return true
		}
	}
	return false
}

// DefaultCatalog 内置规则目录
func DefaultCatalog() (*PatternCatalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// MustDefaultCatalog 内置规则目录，失败时 panic
func MustDefaultCatalog() *PatternCatalog {
	c, err := DefaultCatalog()
	if err != nil {
		panic("内置规则目录无效: " + err.Error())
	}
	return c
}

// LoadCatalog 从文件加载规则目录
func LoadCatalog(path string) (*PatternCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog 解析并编译规则目录
func ParseCatalog(data []byte) (*PatternCatalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validator.New().Struct(&file); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return NewCatalog(file.Rules, file.Connectors...)
}

// NewCatalog 编译规则。connectors 为空时使用 DefaultConnectors。
func NewCatalog(specs []RuleSpec, connectors ...string) (*PatternCatalog, error) {
	if len(connectors) == 0 {
		connectors = DefaultConnectors
	}
	c := &PatternCatalog{rules: make([]*Rule, 0, len(specs))}
	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("rule %d: name must be specified", i)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("rule %q: duplicate name", spec.Name)
		}
		seen[spec.Name] = true
		if spec.Category == "" {
			spec.Category = CategoryRedact
		}
		rule, err := compileRule(spec, connectors)
		if err != nil {
			return nil, err
		}
		c.rules = append(c.rules, rule)
	}
	return c, nil
}

func compileRule(spec RuleSpec, connectors []string) (*Rule, error) {
	expr := spec.Pattern
	if expr == "" {
		if len(spec.Keywords) == 0 || spec.Argument == "" {
			return nil, fmt.Errorf("rule %q: either pattern or keywords+argument must be specified", spec.Name)
		}
		conns := spec.Connectors
		if len(conns) == 0 {
			conns = connectors
		}
		expr = ComposeKeywordPattern(spec.Keywords, conns, spec.Argument)
	}

	opts := regexp2.None
	if spec.IgnoreCase {
		opts |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		return nil, fmt.Errorf("rule %q: compile pattern: %w", spec.Name, err)
	}
	re.MatchTimeout = defaultMatchTimeout

	rule := &Rule{spec: spec, re: re}
	for _, name := range re.GetGroupNames() {
		if name == "value" {
			rule.valueGroup = name
		}
	}
	if rule.valueGroup == "" && len(re.GetGroupNumbers()) > 1 {
		rule.valueIndex = 1
	}
	return rule, nil
}

// ComposeKeywordPattern 组合 “关键词 + 可选连接词 + 参数” 模式。
// 关键词与参数之间可以出现任意个连接词及分隔符，例如 “CAMINO A ALCOCER”。
// 关键词和连接词不区分大小写，参数是否区分由规则决定。
func ComposeKeywordPattern(keywords, connectors []string, argument string) string {
	kw := make([]string, len(keywords))
	for i, k := range keywords {
		kw[i] = quoteWords(k)
		if endsWithWordChar(k) {
			kw[i] += `(?!\w)`
		}
	}
	var b strings.Builder
	b.WriteString(`\b(?i:`)
	b.WriteString(strings.Join(kw, "|"))
	b.WriteString(`)`)
	if len(connectors) > 0 {
		cs := make([]string, len(connectors))
		for i, c := range connectors {
			cs[i] = quoteWords(c)
		}
		b.WriteString(`(?:[\s:#,.\-]+(?i:`)
		b.WriteString(strings.Join(cs, "|"))
		b.WriteString(`)\b)*`)
	}
	b.WriteString(`[\s:#.\-]*(?<value>`)
	b.WriteString(argument)
	b.WriteString(`)`)
	return b.String()
}

func endsWithWordChar(s string) bool {
	r := []rune(strings.TrimSpace(s))
	if len(r) == 0 {
		return false
	}
	last := r[len(r)-1]
	return unicode.IsLetter(last) || unicode.IsDigit(last) || last == '_'
}

// quoteWords 转义关键词，词间空白允许任意长度
func quoteWords(s string) string {
	parts := strings.Fields(s)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `\s+`)
}
