package protect

import (
	"fmt"
	"regexp"
	"strings"
)

// TokenConfig 令牌格式配置
type TokenConfig struct {
	// 令牌前缀
	Prefix string `mapstructure:"prefix"`
	// 令牌后缀
	Suffix string `mapstructure:"suffix"`
	// 序号宽度，位数不足时补零
	Width int `mapstructure:"width"`
}

// DefaultTokenConfig 默认令牌配置，生成形如 @@PHI_0001@@ 的令牌
var DefaultTokenConfig = TokenConfig{
	Prefix: "@@PHI_",
	Suffix: "@@",
	Width:  4,
}

// maxTokenSkips 连续跳过的序号上限
const maxTokenSkips = 1000

// Validate 校验令牌配置
func (c TokenConfig) Validate() error {
	if c.Prefix == "" || c.Suffix == "" {
		return fmt.Errorf("token prefix and suffix must not be empty")
	}
	if c.Width < 1 || c.Width > 12 {
		return fmt.Errorf("token width %d out of range [1,12]", c.Width)
	}
	for _, r := range c.Prefix + c.Suffix {
		if !isTokenDelimiterRune(r) {
			return fmt.Errorf("token delimiter contains unsupported character %q", r)
		}
	}
	return nil
}

// isTokenDelimiterRune 令牌只允许大写 ASCII 字母、数字和少量保留分隔符
func isTokenDelimiterRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '@', r == '_', r == '#', r == '~':
		return true
	}
	return false
}

func (c TokenConfig) withDefaults() TokenConfig {
	if c.Prefix == "" {
		c.Prefix = DefaultTokenConfig.Prefix
	}
	if c.Suffix == "" {
		c.Suffix = DefaultTokenConfig.Suffix
	}
	if c.Width == 0 {
		c.Width = DefaultTokenConfig.Width
	}
	return c
}

// format 按序号生成令牌
func (c TokenConfig) format(seq int) string {
	return fmt.Sprintf("%s%0*d%s", c.Prefix, c.Width, seq, c.Suffix)
}

// ResiduePattern 匹配任何令牌形状的字符串
func (c TokenConfig) ResiduePattern() *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(c.Prefix) + `[A-Z0-9]+` + regexp.QuoteMeta(c.Suffix))
}

// tokenGenerator 单文档令牌生成器，序号严格递增
type tokenGenerator struct {
	cfg     TokenConfig
	catalog *PatternCatalog
	seq     int
}

func newTokenGenerator(cfg TokenConfig, catalog *PatternCatalog) *tokenGenerator {
	return &tokenGenerator{cfg: cfg, catalog: catalog}
}

// next 返回下一个令牌，跳过会被规则目录匹配的序号
func (g *tokenGenerator) next() (string, error) {
	for i := 0; i < maxTokenSkips; i++ {
		g.seq++
		token := g.cfg.format(g.seq)
		if g.catalog == nil || !g.catalog.MatchesAny(token) {
			return token, nil
		}
	}
	return "", newError(KindTokenCollision, "no usable token after %d candidates", maxTokenSkips)
}

// PromptInstruction 返回附加在 LLM 提示词后的令牌保留说明
func PromptInstruction(cfg TokenConfig) string {
	cfg = cfg.withDefaults()
	pattern := regexp.QuoteMeta(cfg.Prefix) + `[A-Z0-9]+` + regexp.QuoteMeta(cfg.Suffix)

	return fmt.Sprintf(`
IMPORTANT: Protected Tokens
- Text matching the pattern %s is a protected token.
- Copy every token into your output exactly once, character for character.
- Do not translate, split, re-case, or add punctuation inside a token.
- You may move a token to wherever it belongs in the translated sentence.
- Example: %s should remain unchanged.`,
		pattern,
		cfg.format(1),
	)
}

// AppendPromptInstruction 向现有 prompt 追加令牌说明
func AppendPromptInstruction(prompt string, cfg TokenConfig) string {
	if strings.TrimSpace(prompt) == "" {
		return strings.TrimSpace(PromptInstruction(cfg))
	}
	return prompt + "\n\n" + strings.TrimSpace(PromptInstruction(cfg))
}
