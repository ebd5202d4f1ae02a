package libretranslate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
)

// DefaultEndpoint 默认服务地址，生产环境应指向自建实例
const DefaultEndpoint = "http://localhost:5000"

// Config LibreTranslate配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	// RequiresAPIKey 服务器是否需要API密钥
	RequiresAPIKey bool `mapstructure:"requires_api_key" json:"requires_api_key"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{BaseConfig: providers.DefaultConfig()}
	config.APIEndpoint = DefaultEndpoint
	return config
}

// Provider LibreTranslate提供商
type Provider struct {
	config     Config
	httpClient *http.Client
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的LibreTranslate提供商
func New(config Config) *Provider {
	if config.APIEndpoint == "" {
		config.APIEndpoint = DefaultEndpoint
	}
	config.APIEndpoint = strings.TrimRight(config.APIEndpoint, "/")

	return &Provider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name 获取提供商名称
func (p *Provider) Name() string {
	return "libretranslate"
}

// Translate 执行翻译，不做重试
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	req := TranslateRequest{
		Q:      text,
		Source: normalizeLanguageCode(sourceLang),
		Target: normalizeLanguageCode(targetLang),
		Format: "text",
	}
	if p.config.RequiresAPIKey || p.config.APIKey != "" {
		req.APIKey = p.config.APIKey
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.APIEndpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", providers.FromTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", providers.FromTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			return "", providers.FromStatus(resp.StatusCode, errorResp.Error)
		}
		return "", providers.FromStatus(resp.StatusCode, "")
	}

	var translateResp TranslateResponse
	if err := json.Unmarshal(respBody, &translateResp); err != nil {
		return "", &providers.Error{Code: providers.CodeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return translateResp.TranslatedText, nil
}

// HealthCheck 获取语言列表作为健康检查
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Languages(ctx)
	return err
}

// Languages 获取服务端支持的语言列表
func (p *Provider) Languages(ctx context.Context) ([]Language, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.APIEndpoint+"/languages", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, providers.FromTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, providers.FromStatus(resp.StatusCode, "failed to fetch languages")
	}

	var languages []Language
	if err := json.NewDecoder(resp.Body).Decode(&languages); err != nil {
		return nil, &providers.Error{Code: providers.CodeInvalidResponse, Message: "failed to decode languages", Cause: err}
	}
	return languages, nil
}

// normalizeLanguageCode 标准化语言代码
func normalizeLanguageCode(lang string) string {
	lower := strings.ToLower(strings.TrimSpace(lang))

	replacements := map[string]string{
		"spanish":    "es",
		"english":    "en",
		"portuguese": "pt",
		"french":     "fr",
		"german":     "de",
		"italian":    "it",
		"chinese":    "zh",
	}
	if normalized, ok := replacements[lower]; ok {
		return normalized
	}

	// es-MX → es
	if i := strings.IndexAny(lower, "-_"); i == 2 {
		return lower[:2]
	}
	return lower
}

// Language 语言信息
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// TranslateRequest 翻译请求
type TranslateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}
