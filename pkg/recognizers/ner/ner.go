// Package ner 通过 HTTP 调用命名实体识别旁路服务。
//
// 服务端接口为 POST {base}/classify，请求 {"text": "..."}，
// 响应 {"spans":[{"start":0,"end":4,"label":"PER","text":"...","score":0.9}]}，
// 偏移量按 Unicode 码点计算。服务不可用时返回错误，由检测层降级处理。
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

// Config 旁路服务配置
type Config struct {
	URL     string            `mapstructure:"url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// Client NER 旁路服务客户端，可并发使用
type Client struct {
	url     string
	headers map[string]string
	http    *http.Client
	logger  *zap.Logger
}

var _ protect.EntityRecognizer = (*Client)(nil)

// New 创建客户端，URL 形如 http://ner:8001
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:     strings.TrimRight(cfg.URL, "/") + "/classify",
		headers: cfg.Headers,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Spans []nerSpan `json:"spans"`
}

type nerSpan struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Label string   `json:"label"`
	Text  string   `json:"text"`
	Score *float64 `json:"score,omitempty"`
}

// Recognize 实现 protect.EntityRecognizer
func (c *Client) Recognize(ctx context.Context, text string) ([]protect.Entity, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner: unexpected status %d", resp.StatusCode)
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ner: decode: %w", err)
	}

	entities := make([]protect.Entity, 0, len(result.Spans))
	for _, s := range result.Spans {
		score := 1.0
		if s.Score != nil {
			score = *s.Score
		}
		entities = append(entities, protect.Entity{
			Label:      s.Label,
			Text:       s.Text,
			Start:      s.Start,
			End:        s.End,
			Confidence: score,
		})
	}
	c.logger.Debug("ner spans received", zap.Int("count", len(entities)))
	return entities, nil
}
