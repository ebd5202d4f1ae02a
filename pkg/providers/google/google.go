package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
)

// DefaultEndpoint Google Cloud Translation v2
const DefaultEndpoint = "https://translation.googleapis.com/language/translate/v2"

// Config Google Translate配置
type Config struct {
	providers.BaseConfig `mapstructure:",squash"`
	ProjectID            string `mapstructure:"project_id" json:"project_id,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	config := Config{BaseConfig: providers.DefaultConfig()}
	config.APIEndpoint = DefaultEndpoint
	return config
}

// Provider Google Translate提供商
type Provider struct {
	config     Config
	httpClient *http.Client
}

var _ providers.Provider = (*Provider)(nil)

// New 创建新的Google Translate提供商
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
	return "google"
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	params := url.Values{}
	params.Set("key", p.config.APIKey)
	params.Set("q", text)
	params.Set("source", normalizeLanguageCode(sourceLang))
	params.Set("target", normalizeLanguageCode(targetLang))
	params.Set("format", "text")

	resp, err := p.post(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Data.Translations) == 0 {
		return "", providers.NewError(providers.CodeInvalidResponse, "no translation returned")
	}
	return resp.Data.Translations[0].TranslatedText, nil
}

// HealthCheck 翻译一个单词
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Translate(ctx, "Hello", "en", "es")
	return err
}

func (p *Provider) post(ctx context.Context, params url.Values) (*TranslateResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.APIEndpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.config.ProjectID != "" {
		httpReq.Header.Set("X-Goog-User-Project", p.config.ProjectID)
	}
	for k, v := range p.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.FromTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.FromTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, statusError(resp.StatusCode, apiErr)
		}
		return nil, providers.FromStatus(resp.StatusCode, "")
	}

	var translateResp TranslateResponse
	if err := json.Unmarshal(body, &translateResp); err != nil {
		return nil, &providers.Error{Code: providers.CodeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return &translateResp, nil
}

// statusError Google 用 403 同时表示鉴权失败与配额耗尽，按 reason 区分
func statusError(status int, apiErr APIError) error {
	perr := providers.FromStatus(status, apiErr.Error.Message)
	for _, e := range apiErr.Error.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			perr.Code = providers.CodeRateLimit
		case "dailyLimitExceeded", "quotaExceeded":
			perr.Code = providers.CodeQuota
		}
	}
	return perr
}

// normalizeLanguageCode 标准化语言代码
func normalizeLanguageCode(lang string) string {
	replacements := map[string]string{
		"chinese":             "zh",
		"chinese_simplified":  "zh-CN",
		"chinese_traditional": "zh-TW",
		"english":             "en",
		"spanish":             "es",
		"french":              "fr",
		"german":              "de",
		"japanese":            "ja",
		"korean":              "ko",
		"portuguese":          "pt",
		"russian":             "ru",
		"italian":             "it",
	}
	if normalized, ok := replacements[strings.ToLower(lang)]; ok {
		return normalized
	}
	// xx_YY 转为 xx-YY
	return strings.Replace(lang, "_", "-", 1)
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage,omitempty"`
		} `json:"translations"`
	} `json:"data"`
}

// APIError API错误
type APIError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
			Domain  string `json:"domain"`
			Reason  string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}
