// Package ollama 本地部署的 Ollama 模型，文本不离开本机
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
)

// DefaultEndpoint 默认服务地址
const DefaultEndpoint = "http://localhost:11434"

const defaultSystemPrompt = "You are a professional medical translator. Translate accurately while preserving clinical terminology. Output only the translation without any explanations."

// Config Ollama配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	Model                string  `mapstructure:"model" json:"model"`
	Temperature          float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens            int     `mapstructure:"max_tokens" json:"max_tokens"`
	SystemPrompt         string  `mapstructure:"system_prompt" json:"system_prompt,omitempty"`
	// Token 与分词器一致的令牌格式
	Token protect.TokenConfig `mapstructure:"token" json:"token"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{
		BaseConfig:  providers.DefaultConfig(),
		Model:       "llama3.1",
		Temperature: 0.2,
		MaxTokens:   4096,
		Token:       protect.DefaultTokenConfig,
	}
	config.APIEndpoint = DefaultEndpoint
	return config
}

// Provider Ollama提供商
type Provider struct {
	config     Config
	httpClient *http.Client
	system     string
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的Ollama提供商
func New(config Config) *Provider {
	if config.APIEndpoint == "" {
		config.APIEndpoint = DefaultEndpoint
	}
	config.APIEndpoint = strings.TrimRight(config.APIEndpoint, "/")

	system := config.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	return &Provider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		system:     protect.AppendPromptInstruction(system, config.Token),
	}
}

// Name 获取提供商名称
func (p *Provider) Name() string {
	return "ollama"
}

// SystemPrompt 实际发送的系统提示词
func (p *Provider) SystemPrompt() string {
	return p.system
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	req := GenerateRequest{
		Model:  p.config.Model,
		System: p.system,
		Prompt: fmt.Sprintf("Translate the following text from %s to %s:\n\n%s", sourceLang, targetLang, text),
		Stream: false,
		Options: map[string]any{
			"temperature": p.config.Temperature,
		},
	}
	if p.config.MaxTokens > 0 {
		req.Options["num_predict"] = p.config.MaxTokens
	}

	resp, err := p.generate(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.Done || resp.DoneReason == "length" {
		return "", providers.NewError(providers.CodeInvalidResponse, "generation truncated")
	}
	return strings.TrimSpace(resp.Response), nil
}

// HealthCheck 列出本地模型
func (p *Provider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.APIEndpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return providers.FromTransport(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return providers.FromStatus(resp.StatusCode, "")
	}
	return nil
}

func (p *Provider) generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.APIEndpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.FromTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.FromTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.ErrorMsg != "" {
			return nil, providers.FromStatus(resp.StatusCode, apiErr.ErrorMsg)
		}
		return nil, providers.FromStatus(resp.StatusCode, "")
	}

	var generateResp GenerateResponse
	if err := json.Unmarshal(respBody, &generateResp); err != nil {
		return nil, &providers.Error{Code: providers.CodeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return &generateResp, nil
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// GenerateResponse 生成响应
type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// APIError API错误
type APIError struct {
	ErrorMsg string `json:"error"`
}

func (e *APIError) Error() string {
	return e.ErrorMsg
}
