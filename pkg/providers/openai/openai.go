package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
)

const defaultSystemPrompt = "You are a professional medical translator. Translate accurately while preserving the original meaning, clinical terminology and tone. Output only the translation."

// Config OpenAI配置（使用官方SDK）
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	Model                string  `mapstructure:"model" json:"model"`
	Temperature          float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens            int     `mapstructure:"max_tokens" json:"max_tokens"`
	OrgID                string  `mapstructure:"org_id" json:"org_id,omitempty"`
	SystemPrompt         string  `mapstructure:"system_prompt" json:"system_prompt,omitempty"`
	// Token 与分词器一致的令牌格式，用于生成保留说明
	Token protect.TokenConfig `mapstructure:"token" json:"token"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseConfig:  providers.DefaultConfig(),
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxTokens:   4096,
		Token:       protect.DefaultTokenConfig,
	}
}

// Provider OpenAI兼容接口的提供商
type Provider struct {
	config Config
	client openai.Client
	system string
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的OpenAI提供商
func New(config Config) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		// 重试由管线统一负责
		option.WithMaxRetries(0),
	}
	if config.APIEndpoint != "" {
		opts = append(opts, option.WithBaseURL(config.APIEndpoint))
	}
	if config.OrgID != "" {
		opts = append(opts, option.WithOrganization(config.OrgID))
	}
	for k, v := range config.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	system := config.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	return &Provider{
		config: config,
		client: openai.NewClient(opts...),
		system: protect.AppendPromptInstruction(system, config.Token),
	}
}

// Name 获取提供商名称
func (p *Provider) Name() string {
	return "openai"
}

// SystemPrompt 实际发送的系统提示
func (p *Provider) SystemPrompt() string {
	return p.system
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.system),
			openai.UserMessage(fmt.Sprintf("Translate the following text from %s to %s:\n\n%s",
				sourceLang, targetLang, text)),
		},
		Model: openai.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = openai.Float(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.config.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", convertError(err)
	}
	if len(completion.Choices) == 0 {
		return "", providers.NewError(providers.CodeInvalidResponse, "no choices returned")
	}

	choice := completion.Choices[0]
	if choice.FinishReason == "length" {
		// 截断的输出可能丢失令牌
		return "", providers.NewError(providers.CodeInvalidResponse, "completion truncated by max_tokens")
	}
	return choice.Message.Content, nil
}

// convertError 把 SDK 错误映射为提供商错误
func convertError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		perr := providers.FromStatus(apiErr.StatusCode, "chat completion failed")
		perr.Cause = err
		return perr
	}
	return providers.FromTransport(err)
}
