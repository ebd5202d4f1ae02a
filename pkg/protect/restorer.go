package protect

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// NameCaseTitle 姓名首字母大写
const NameCaseTitle = "title"

// RestoreOptions 还原时的格式转换。零值表示原样还原。
type RestoreOptions struct {
	// DateOrder 目标日期顺序，为空时保持原样
	DateOrder DateOrder `mapstructure:"date_order"`
	// PhoneSeparator 电话号码分组分隔符，为空时保持原样
	PhoneSeparator string `mapstructure:"phone_separator"`
	// NameCase 姓名大小写，为空时保持原样
	NameCase string `mapstructure:"name_case"`
	// ApplyTerminology 锚定术语替换为本体中的首选目标术语
	ApplyTerminology bool `mapstructure:"apply_terminology"`
}

// Restorer 将改写文本中的令牌还原为原始值
type Restorer struct {
	opts   RestoreOptions
	logger *zap.Logger
}

// NewRestorer 创建还原器
func NewRestorer(opts RestoreOptions, logger *zap.Logger) *Restorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Restorer{opts: opts, logger: logger}
}

// occurrence 令牌在改写文本中的位置（字节）
type occurrence struct {
	pos     int
	mapping int
}

// Restore 每个令牌必须恰好出现一次。失败时返回空字符串，不会返回部分还原的文本。
func (r *Restorer) Restore(rewritten string, tm *TokenMap) (string, error) {
	if tm == nil {
		return "", newError(KindInvalidInput, "token map is nil")
	}
	if err := tm.consume(); err != nil {
		return "", err
	}

	occs := make([]occurrence, 0, tm.Len())
	for i, m := range tm.mappings {
		switch n := strings.Count(rewritten, m.Token); {
		case n == 0:
			r.logger.Warn("token missing from rewritten text", zap.String("token", m.Token), zap.String("type", string(m.Span.Type)))
			return "", newError(KindRestorationIncomplete, "token %s not found", m.Token)
		case n > 1:
			r.logger.Warn("token duplicated in rewritten text", zap.String("token", m.Token), zap.Int("count", n))
			return "", newError(KindRestorationOvercomplete, "token %s found %d times", m.Token, n)
		}
		occs = append(occs, occurrence{pos: strings.Index(rewritten, m.Token), mapping: i})
	}
	sort.Slice(occs, func(i, j int) bool { return occs[i].pos < occs[j].pos })

	var b strings.Builder
	b.Grow(len(rewritten))
	cursor := 0
	for _, o := range occs {
		// 相邻令牌共用分隔符时会出现重叠，说明令牌已被破坏
		if o.pos < cursor {
			return "", newError(KindRestorationIncomplete, "token %s overlaps another token", tm.mappings[o.mapping].Token)
		}
		m := tm.mappings[o.mapping]
		b.WriteString(rewritten[cursor:o.pos])
		b.WriteString(r.value(m))
		cursor = o.pos + len(m.Token)
	}
	b.WriteString(rewritten[cursor:])
	restored := b.String()

	if residue := tm.cfg.ResiduePattern().FindString(restored); residue != "" {
		return "", newError(KindRestorationIncomplete, "unmapped token %s remains after restoration", residue)
	}

	r.logger.Debug("restored document", zap.Int("tokens", len(occs)))
	return restored, nil
}

// value 计算令牌的还原值
func (r *Restorer) value(m TokenMapping) string {
	original := m.Span.Text
	if r.opts.ApplyTerminology && m.Span.Category == CategoryAnchor && m.Replacement != "" {
		return m.Replacement
	}
	switch {
	case m.FormatHint.IsDate():
		if r.opts.DateOrder == DateOrderKeep || m.Components == nil {
			return original
		}
		if out, ok := formatDate(m.Components, r.opts.DateOrder); ok {
			return out
		}
	case m.FormatHint == FormatPhone:
		if r.opts.PhoneSeparator != "" {
			return formatPhone(original, r.opts.PhoneSeparator)
		}
	case m.FormatHint == FormatName:
		if r.opts.NameCase == NameCaseTitle {
			return formatName(original)
		}
	}
	return original
}
