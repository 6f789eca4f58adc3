package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, used with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrInvalidInput     = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	ErrLaunchFailed     = fmt.Errorf("process launch failed")
	ErrNotRunning       = fmt.Errorf("process is not running")
	ErrRunActive        = fmt.Errorf("a migration is already running")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrEncryption       = fmt.Errorf("encryption operation failed")
	ErrHistoryStore     = fmt.Errorf("history store failed")
	ErrBridgeAuth       = fmt.Errorf("bridge: authentication failed")
	ErrRPCMethod        = fmt.Errorf("rpc method not found")
	ErrRPCPayload       = fmt.Errorf("rpc payload invalid")
	ErrSubscriptionGone = fmt.Errorf("subscription closed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Launcher.Launch")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "process", "history"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category carried in bridge responses.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeLaunchFailed     ErrorCode = "LAUNCH_FAILED"
	CodeNotRunning       ErrorCode = "NOT_RUNNING"
	CodeRunActive        ErrorCode = "RUN_ACTIVE"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeEncryption       ErrorCode = "ENCRYPTION"
	CodeHistoryStore     ErrorCode = "HISTORY_STORE"
	CodeBridgeAuth       ErrorCode = "BRIDGE_AUTH"
	CodeRPCMethod        ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCPayload       ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeSubscriptionGone ErrorCode = "SUBSCRIPTION_GONE"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeProcessNotFound   ErrorCode = "PROCESS_NOT_FOUND"
	CodeProcessMaxRunning ErrorCode = "PROCESS_MAX_RUNNING"
	CodeRunNotFound       ErrorCode = "RUN_NOT_FOUND"
	CodeTestModeDisabled  ErrorCode = "TEST_MODE_DISABLED"
	CodeSettingsInvalid   ErrorCode = "SETTINGS_INVALID"

	// Category error codes: fallback codes when no subsystem-specific code matches.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrDisabled:         CodeDisabled,
	ErrInvalidInput:     CodeInvalidInput,

	ErrLaunchFailed:     CodeLaunchFailed,
	ErrNotRunning:       CodeNotRunning,
	ErrRunActive:        CodeRunActive,
	ErrConfigLoad:       CodeConfigLoad,
	ErrDecryption:       CodeDecryption,
	ErrEncryption:       CodeEncryption,
	ErrHistoryStore:     CodeHistoryStore,
	ErrBridgeAuth:       CodeBridgeAuth,
	ErrRPCMethod:        CodeRPCMethod,
	ErrRPCPayload:       CodeRPCPayload,
	ErrSubscriptionGone: CodeSubscriptionGone,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"process": CodeProcessNotFound,
		"history": CodeRunNotFound,
	},
	ErrLimitReached: {
		"process": CodeProcessMaxRunning,
	},
	ErrDisabled: {
		"migration": CodeTestModeDisabled,
	},
	ErrInvalidInput: {
		"migration": CodeSettingsInvalid,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		return de.Code()
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(e.Err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
