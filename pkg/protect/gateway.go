package protect

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// TranslationGateway 外部改写服务。返回文本中必须逐字保留所有令牌，顺序不限。
type TranslationGateway interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// GatewayFunc 函数适配器
type GatewayFunc func(ctx context.Context, text, sourceLang, targetLang string) (string, error)

// Translate 实现 TranslationGateway
func (f GatewayFunc) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return f(ctx, text, sourceLang, targetLang)
}

// IdentityGateway 原样返回输入，用于测试与演练
type IdentityGateway struct{}

// Translate 实现 TranslationGateway
func (IdentityGateway) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// Entity 实体识别结果，偏移量为码点
type Entity struct {
	Label      string  `json:"label"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// EntityRecognizer 通用实体识别能力
type EntityRecognizer interface {
	Recognize(ctx context.Context, text string) ([]Entity, error)
}

// Concept 本体概念
type Concept struct {
	ID            string
	PreferredTerm string
	Category      string
	Source        string
}

// OntologyLookup 只读术语查询
type OntologyLookup interface {
	Lookup(ctx context.Context, term, lang string) (Concept, bool, error)
}

// RetryPolicy 网关调用的超时与重试策略
type RetryPolicy struct {
	// Timeout 单次调用超时
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxAttempts 总尝试次数（含第一次）
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseDelay 指数退避的初始间隔
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// MaxDelay 单次等待上限
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// DefaultRetryPolicy 默认重试策略
var DefaultRetryPolicy = RetryPolicy{
	Timeout:     30 * time.Second,
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultRetryPolicy.Timeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// retryable 后端错误上声明的可重试性
type retryable interface {
	IsRetryable() bool
}

// classifyGatewayError 区分传输错误（可重试）与结构化拒绝（不可重试）
func classifyGatewayError(err error) *Error {
	var r retryable
	if errors.As(err, &r) {
		if r.IsRetryable() {
			return &Error{Kind: KindGatewayTransport, Message: "transient backend failure", Cause: err, Retry: true}
		}
		return &Error{Kind: KindGatewayResponse, Message: "backend refused request", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindGatewayTransport, Message: "network failure", Cause: err, Retry: true}
	}
	// 未知错误按传输错误处理
	return &Error{Kind: KindGatewayTransport, Message: "backend call failed", Cause: err, Retry: true}
}

// callGateway 带超时与指数退避调用网关，只重试传输错误
func callGateway(ctx context.Context, gw TranslationGateway, policy RetryPolicy, logger *zap.Logger,
	text, sourceLang, targetLang string) (string, error) {
	policy = policy.withDefaults()

	var out string
	attempt := 0
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()

		res, err := gw.Translate(callCtx, text, sourceLang, targetLang)
		if err == nil {
			out = res
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		gerr := classifyGatewayError(err)
		logger.Warn("gateway call failed",
			zap.Int("attempt", attempt),
			zap.String("kind", string(gerr.Kind)),
			zap.Bool("retryable", gerr.Retry))
		if gerr.Retry {
			return retry.RetryableError(gerr)
		}
		return gerr
	})
	if err == nil {
		return out, nil
	}

	var perr *Error
	if errors.As(err, &perr) {
		return "", perr
	}
	if ctx.Err() != nil {
		return "", &Error{Kind: KindCanceled, Message: "document processing canceled", Cause: ctx.Err()}
	}
	return "", classifyGatewayError(err)
}
