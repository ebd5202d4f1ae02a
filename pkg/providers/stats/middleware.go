// Package stats 统计翻译后端的调用结果与令牌保留情况
package stats

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
)

// Middleware 统计中间件，不改变请求与响应
type Middleware struct {
	next    providers.Provider
	manager *Manager
	tokenRe *regexp.Regexp
}

var _ providers.Provider = (*Middleware)(nil)

// NewMiddleware 创建统计中间件，tokens 决定如何识别令牌
func NewMiddleware(next providers.Provider, manager *Manager, tokens protect.TokenConfig) *Middleware {
	return &Middleware{
		next:    next,
		manager: manager,
		tokenRe: tokens.ResiduePattern(),
	}
}

// Name 透传被包装后端的名称
func (m *Middleware) Name() string {
	return m.next.Name()
}

// Translate 带统计的翻译
func (m *Middleware) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	start := time.Now()
	out, err := m.next.Translate(ctx, text, sourceLang, targetLang)

	result := RequestResult{Success: err == nil, Latency: time.Since(start)}
	if err != nil {
		result.ErrorType = classifyError(err)
	} else {
		sent := countTokens(m.tokenRe, text)
		got := countTokens(m.tokenRe, out)
		for tok, n := range sent {
			result.TokensSent += n
			c := got[tok]
			if c < n {
				result.TokensLost = true
				result.TokensReturned += c
				continue
			}
			result.TokensReturned += n
			if c > n {
				result.TokensDup = true
			}
		}
	}
	m.manager.Record(m.next.Name(), result)
	return out, err
}

func countTokens(re *regexp.Regexp, text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range re.FindAllString(text, -1) {
		counts[tok]++
	}
	return counts
}

// classifyError 错误码优先，其次区分取消
func classifyError(err error) string {
	var perr *providers.Error
	switch {
	case errors.As(err, &perr):
		return perr.Code
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return providers.CodeTimeout
	}
	return "unknown"
}
