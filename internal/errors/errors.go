package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
//
// Persist 表示该类失败是否作为终态结果写回消息流，供智能体在下一轮解释。
// Sync 表示该类错误在任何副作用之前同步返回给调用方。
type Attributes struct {
	Message  string
	Severity Severity
	Persist  bool
	Sync     bool
	Alert    bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"

	CodeWalletNotConnected  Code = "WALLET_NOT_CONNECTED"
	CodeInvalidArguments    Code = "INVALID_ARGUMENTS"
	CodeUserRejected        Code = "USER_REJECTED"
	CodeExecutionReverted   Code = "EXECUTION_REVERTED"
	CodeReceiptUnconfirmed  Code = "RECEIPT_TIMEOUT_OR_NETWORK_ERROR"
	CodeCorrelationNotFound Code = "CORRELATION_NOT_FOUND"
	CodeExecutionInProgress Code = "EXECUTION_IN_PROGRESS"
	CodeAlreadyCompleted    Code = "ALREADY_COMPLETED"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, Sync: true},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Alert: true},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Alert: true},
		CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Alert: true},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning},

		CodeWalletNotConnected: {
			Message:  "please connect your wallet first",
			Severity: SeverityInfo,
			Sync:     true,
		},
		CodeInvalidArguments: {
			Message:  "missing or invalid operation arguments",
			Severity: SeverityInfo,
			Sync:     true,
		},
		CodeUserRejected: {
			Message:  "user rejected the request",
			Severity: SeverityInfo,
			Persist:  true,
		},
		CodeExecutionReverted: {
			Message:  "execution reverted",
			Severity: SeverityWarning,
			Persist:  true,
			Alert:    true,
		},
		CodeReceiptUnconfirmed: {
			Message:  "could not confirm transaction receipt",
			Severity: SeverityWarning,
			Persist:  true,
			Alert:    true,
		},
		CodeCorrelationNotFound: {
			Message:  "no tool call to correlate with",
			Severity: SeverityInfo,
		},
		CodeExecutionInProgress: {
			Message:  "operation is already executing",
			Severity: SeverityInfo,
			Sync:     true,
		},
		CodeAlreadyCompleted: {
			Message:  "operation already reached a terminal state",
			Severity: SeverityInfo,
			Sync:     true,
		},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	alert    *bool
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithAlert 指定错误是否需要告警。
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例，message 为空时使用注册表中的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含错误码前缀的可读信息，用于展示给用户。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	if e.cause != nil && e.message == AttributesOf(e.code).Message {
		return e.cause.Error()
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return AttributesOf(e.code).Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// MessageOf 返回适合直接展示的错误描述。
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := From(err); ok {
		return e.Message()
	}
	return err.Error()
}

// Persisted 判断该错误对应的失败是否应写入消息流。
func Persisted(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Persist
	}
	return false
}

// Synchronous 判断错误是否属于副作用之前的同步拒绝。
func Synchronous(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Sync
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
