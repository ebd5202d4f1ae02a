// Package ratelimit 在调用翻译后端前做令牌桶限流。
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
)

// Config 限流配置
type Config struct {
	// RequestsPerSecond 每秒请求数，<=0 表示不限流
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Burst 突发上限
	Burst int `mapstructure:"burst"`
}

// Provider 带限流的提供商
type Provider struct {
	next    providers.Provider
	limiter *rate.Limiter
}

var _ providers.Provider = (*Provider)(nil)

// New 包装提供商。未启用限流时返回原提供商。
func New(next providers.Provider, cfg Config) providers.Provider {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Provider{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Name 返回底层提供商名称
func (p *Provider) Name() string {
	return p.next.Name()
}

// Translate 等待令牌后调用后端
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return p.next.Translate(ctx, text, sourceLang, targetLang)
}
