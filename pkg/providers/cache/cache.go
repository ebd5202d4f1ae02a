// Package cache 为翻译后端提供进程内 LRU 结果缓存。
// 缓存的只有令牌化后的文本，不含受保护原文。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
)

// Stats 命中统计
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Provider 带缓存的提供商
type Provider struct {
	next   providers.Provider
	cache  *lru.Cache[string, string]
	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ providers.Provider = (*Provider)(nil)

// New 包装提供商，size 为缓存条目数
func New(next providers.Provider, size int) (*Provider, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be greater than zero")
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return &Provider{next: next, cache: c}, nil
}

// Name 返回底层提供商名称
func (p *Provider) Name() string {
	return p.next.Name()
}

// Translate 命中缓存直接返回，失败结果不缓存
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	key := cacheKey(p.next.Name(), sourceLang, targetLang, text)
	if out, ok := p.cache.Get(key); ok {
		p.hits.Add(1)
		return out, nil
	}
	p.misses.Add(1)

	out, err := p.next.Translate(ctx, text, sourceLang, targetLang)
	if err != nil {
		return "", err
	}
	p.cache.Add(key, out)
	return out, nil
}

// Stats 返回当前统计
func (p *Provider) Stats() Stats {
	return Stats{
		Hits:   p.hits.Load(),
		Misses: p.misses.Load(),
		Size:   p.cache.Len(),
	}
}

// Purge 清空缓存
func (p *Provider) Purge() {
	p.cache.Purge()
}

func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
