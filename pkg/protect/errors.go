package protect

import (
	"errors"
	"fmt"
)

// Kind 错误类型
type Kind string

// 错误类型常量
const (
	KindDetectionDegraded       Kind = "DETECTION_DEGRADED"
	KindTokenLeakDetected       Kind = "TOKEN_LEAK_DETECTED"
	KindTokenCollision          Kind = "TOKEN_COLLISION"
	KindGatewayTransport        Kind = "GATEWAY_TRANSPORT_ERROR"
	KindGatewayResponse         Kind = "GATEWAY_RESPONSE_ERROR"
	KindRestorationIncomplete   Kind = "RESTORATION_INCOMPLETE"
	KindRestorationOvercomplete Kind = "RESTORATION_OVERCOMPLETE"
	KindTokenMapConsumed        Kind = "TOKEN_MAP_CONSUMED"
	KindInvalidInput            Kind = "INVALID_INPUT"
	KindCanceled                Kind = "CANCELED"
	KindAuditUnavailable        Kind = "AUDIT_UNAVAILABLE"
)

// 预定义错误，用于 errors.Is 判断
var (
	ErrDetectionDegraded       = &Error{Kind: KindDetectionDegraded}
	ErrTokenLeakDetected       = &Error{Kind: KindTokenLeakDetected}
	ErrTokenCollision          = &Error{Kind: KindTokenCollision}
	ErrGatewayTransport        = &Error{Kind: KindGatewayTransport}
	ErrGatewayResponse         = &Error{Kind: KindGatewayResponse}
	ErrRestorationIncomplete   = &Error{Kind: KindRestorationIncomplete}
	ErrRestorationOvercomplete = &Error{Kind: KindRestorationOvercomplete}
	ErrTokenMapConsumed        = &Error{Kind: KindTokenMapConsumed}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput}
	ErrCanceled                = &Error{Kind: KindCanceled}
	ErrAuditUnavailable        = &Error{Kind: KindAuditUnavailable}
)

// Error 流水线错误。消息中只允许出现类型、计数和令牌，不允许出现原文内容。
type Error struct {
	DocumentID string
	Kind       Kind
	Stage      string
	Message    string
	Cause      error
	Retry      bool
}

// Error 实现error接口
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.DocumentID != "" {
		msg = fmt.Sprintf("[%s] document %s", e.Kind, e.DocumentID)
	}
	if e.Stage != "" {
		msg += " at stage '" + e.Stage + "'"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap 返回原因错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误类型匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsRetryable 是否可重试
func (e *Error) IsRetryable() bool {
	return e.Retry
}

// newError 创建错误
func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// withDocument 补充文档信息；已有的字段保持不变
func withDocument(err error, docID, stage string) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		cp := *pe
		if cp.DocumentID == "" {
			cp.DocumentID = docID
		}
		if cp.Stage == "" {
			cp.Stage = stage
		}
		return &cp
	}
	return &Error{DocumentID: docID, Kind: KindInvalidInput, Stage: stage, Message: "unexpected failure", Cause: err}
}

// KindOf 提取错误类型，非流水线错误返回空字符串
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
