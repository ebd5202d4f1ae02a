package deepl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
)

const (
	proEndpoint  = "https://api.deepl.com/v2"
	freeEndpoint = "https://api-free.deepl.com/v2"
)

// Config DeepL配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	UseFreeAPI           bool   `mapstructure:"use_free_api" json:"use_free_api"`
	Formality            string `mapstructure:"formality" json:"formality,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{BaseConfig: providers.DefaultConfig()}
	config.APIEndpoint = proEndpoint
	return config
}

// Provider DeepL提供商
type Provider struct {
	config     Config
	httpClient *http.Client
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的DeepL提供商
func New(config Config) *Provider {
	if config.APIEndpoint == "" {
		if config.UseFreeAPI {
			config.APIEndpoint = freeEndpoint
		} else {
			config.APIEndpoint = proEndpoint
		}
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
	return "deepl"
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	params := url.Values{}
	params.Set("text", text)
	if sourceLang != "" {
		params.Set("source_lang", normalizeLanguageCode(sourceLang, true))
	}
	params.Set("target_lang", normalizeLanguageCode(targetLang, false))
	params.Set("preserve_formatting", "1")
	if p.config.Formality != "" {
		params.Set("formality", p.config.Formality)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.APIEndpoint+"/translate", strings.NewReader(params.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", providers.FromTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode)
	}

	var translateResp TranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&translateResp); err != nil {
		return "", &providers.Error{Code: providers.CodeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if len(translateResp.Translations) == 0 {
		return "", providers.NewError(providers.CodeInvalidResponse, "no translation returned")
	}
	return translateResp.Translations[0].Text, nil
}

// HealthCheck 检查使用量接口
func (p *Provider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.APIEndpoint+"/usage", nil)
	if err != nil {
		return err
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return providers.FromTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	return nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "DeepL-Auth-Key "+p.config.APIKey)
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}
}

// statusError 处理 DeepL 特定错误码
func statusError(status int) *providers.Error {
	switch status {
	case http.StatusForbidden:
		return &providers.Error{Code: providers.CodeAuth, Message: "authentication failed", Status: status}
	case http.StatusRequestEntityTooLarge:
		return &providers.Error{Code: providers.CodeBadRequest, Message: "request size exceeded", Status: status}
	case 456:
		return &providers.Error{Code: providers.CodeQuota, Message: "quota exceeded", Status: status}
	case http.StatusServiceUnavailable:
		return &providers.Error{Code: providers.CodeServerError, Message: "service temporarily unavailable", Status: status}
	default:
		return providers.FromStatus(status, "")
	}
}

// normalizeLanguageCode 标准化语言代码为DeepL格式
func normalizeLanguageCode(lang string, isSource bool) string {
	upper := strings.ToUpper(strings.TrimSpace(lang))
	upper = strings.ReplaceAll(upper, "_", "-")

	replacements := map[string]string{
		"SPANISH":    "ES",
		"ENGLISH":    "EN",
		"PORTUGUESE": "PT",
		"FRENCH":     "FR",
		"GERMAN":     "DE",
		"ITALIAN":    "IT",
		"CHINESE":    "ZH",
	}
	if normalized, ok := replacements[upper]; ok {
		upper = normalized
	}

	// 源语言不带地区变体
	if isSource {
		if i := strings.Index(upper, "-"); i > 0 {
			return upper[:i]
		}
		return upper
	}

	// 英语和葡萄牙语的目标语言需要指定变体
	switch upper {
	case "EN":
		return "EN-US"
	case "PT":
		return "PT-BR"
	}
	return upper
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}
