package deeplx

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

// DefaultEndpoint 自建 DeepLX 服务
const DefaultEndpoint = "http://localhost:1188/translate"

// Config DeepLX配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	// AccessToken 可选的访问令牌
	AccessToken string `mapstructure:"access_token" json:"access_token,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{BaseConfig: providers.DefaultConfig()}
	config.APIEndpoint = DefaultEndpoint
	return config
}

// Provider DeepLX提供商
type Provider struct {
	config     Config
	httpClient *http.Client
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的DeepLX提供商
func New(config Config) *Provider {
	if config.APIEndpoint == "" {
		config.APIEndpoint = DefaultEndpoint
	}
	return &Provider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name 获取提供商名称
func (p *Provider) Name() string {
	return "deeplx"
}

// Translate 执行翻译。DeepLX 在响应体的 code 字段里报告业务错误。
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	body, err := json.Marshal(TranslateRequest{
		Text:       text,
		SourceLang: normalizeLanguageCode(sourceLang),
		TargetLang: normalizeLanguageCode(targetLang),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.AccessToken)
	}
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

	var translateResp TranslateResponse
	if err := json.Unmarshal(respBody, &translateResp); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", providers.FromStatus(resp.StatusCode, "")
		}
		return "", &providers.Error{Code: providers.CodeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	code := translateResp.Code
	if code == 0 {
		code = resp.StatusCode
	}
	if code != http.StatusOK {
		return "", providers.FromStatus(code, translateResp.Message)
	}
	return translateResp.Data, nil
}

// HealthCheck 翻译一个单词
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Translate(ctx, "Hello", "EN", "ES")
	return err
}

// normalizeLanguageCode DeepLX 使用大写的两字母代码
func normalizeLanguageCode(lang string) string {
	replacements := map[string]string{
		"chinese":    "ZH",
		"english":    "EN",
		"spanish":    "ES",
		"french":     "FR",
		"german":     "DE",
		"japanese":   "JA",
		"portuguese": "PT",
		"italian":    "IT",
	}
	lower := strings.ToLower(lang)
	if normalized, ok := replacements[lower]; ok {
		return normalized
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToUpper(lang)
}

// TranslateRequest 翻译请求
type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Code       int      `json:"code"`
	ID         int64    `json:"id"`
	Message    string   `json:"message,omitempty"`
	Data       string   `json:"data"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang,omitempty"`
	Alternates []string `json:"alternatives,omitempty"`
}
