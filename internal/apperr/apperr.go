// Package apperr 定义了核心对外暴露的结构化错误分类。
// 所有向调用方返回的错误都带有确定的 Kind 与 message，绝不外泄内部堆栈。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 标识错误的类别，调用方据此决定重试、降级或直接上报。
type Kind string

const (
	// KindStoreUnavailable 表示知识库/记忆库/工单库后端不可达。
	// 调用方应透明重试一次，仍失败则降级响应。
	KindStoreUnavailable Kind = "store_unavailable"
	// KindNotFound 表示请求的对象（如工单号）不存在。
	KindNotFound Kind = "not_found"
	// KindInvalidTransition 表示非法的工单状态迁移。
	KindInvalidTransition Kind = "invalid_transition"
	// KindValidationError 表示缺少必填槽位或输入超限。
	KindValidationError Kind = "validation_error"
)

// Error 是 kind + message 的结构化错误，可通过 %w 包装底层原因。
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New 创建一个不带底层原因的结构化错误。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 包装底层错误并赋予类别；cause 为 nil 时等价于 New。
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf 提取错误的类别；非结构化错误返回空串。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is 判断错误是否属于指定类别。
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
