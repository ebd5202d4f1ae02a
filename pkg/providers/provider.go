package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/retry"
)

// BaseConfig 基础配置
type BaseConfig struct {
	// API配置
	APIKey      string `mapstructure:"api_key" json:"api_key,omitempty"`
	APIEndpoint string `mapstructure:"api_endpoint" json:"api_endpoint,omitempty"`

	// 单次请求超时，重试由调用方负责
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`

	// 自定义头部
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() BaseConfig {
	return BaseConfig{
		Timeout: 60 * time.Second,
		Headers: make(map[string]string),
	}
}

// Provider 翻译后端。令牌在返回文本中必须逐字保留。
type Provider interface {
	// Name 提供商名称
	Name() string

	// Translate 执行翻译
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// HealthChecker 可选的健康检查能力
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// 错误码
const (
	CodeRateLimit       = "rate_limit"
	CodeTimeout         = "timeout"
	CodeServerError     = "server_error"
	CodeNetwork         = "network"
	CodeAuth            = "auth"
	CodeQuota           = "quota_exceeded"
	CodeBadRequest      = "bad_request"
	CodeInvalidResponse = "invalid_response"
)

// Error 提供商错误
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断错误是否可重试
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeRateLimit, CodeTimeout, CodeServerError, CodeNetwork:
		return true
	default:
		return false
	}
}

// NewError 创建提供商错误
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// FromStatus 按 HTTP 状态码构造错误
func FromStatus(status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	code := CodeBadRequest
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = CodeAuth
	case http.StatusTooManyRequests:
		code = CodeRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = CodeTimeout
	default:
		switch retry.ClassifyStatus(status) {
		case retry.ErrorTypeServerError, retry.ErrorTypeRetryableHTTP:
			code = CodeServerError
		}
	}
	return &Error{Code: code, Message: message, Status: status}
}

// FromTransport 包装请求发送阶段的错误。上下文取消原样返回。
func FromTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "request timed out", Cause: err}
	}
	if retry.IsNetworkError(err) {
		return &Error{Code: CodeNetwork, Message: "network failure", Cause: err}
	}
	return &Error{Code: CodeNetwork, Message: "request failed", Cause: err}
}

// Identity 原样返回输入的提供商，用于演练
type Identity struct{}

// Name 获取提供商名称
func (Identity) Name() string { return "identity" }

// Translate 原样返回
func (Identity) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
