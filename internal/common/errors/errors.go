// Package errors provides the standardized error taxonomy for a classification run.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Record decoding
const (
	ErrCodeMissingField    ErrorCode = "DECODE_MISSING_FIELD"
	ErrCodeMalformedRecord ErrorCode = "DECODE_MALFORMED_RECORD"
)

// Remote classification
const (
	ErrCodeTransport           ErrorCode = "CLASSIFY_TRANSPORT"
	ErrCodeBadStatus           ErrorCode = "CLASSIFY_BAD_STATUS"
	ErrCodeUnparseableResponse ErrorCode = "CLASSIFY_UNPARSEABLE_RESPONSE"
	ErrCodeShortResponse       ErrorCode = "CLASSIFY_SHORT_RESPONSE"
)

// Outputs and configuration
const (
	ErrCodeSinkWriteFailed   ErrorCode = "SINK_WRITE_FAILED"
	ErrCodeReportWriteFailed ErrorCode = "REPORT_WRITE_FAILED"
	ErrCodePublishFailed     ErrorCode = "PUBLISH_FAILED"
	ErrCodeConfigMissingKey  ErrorCode = "CONFIG_MISSING_KEY"
	ErrCodeConfigWrongType   ErrorCode = "CONFIG_WRONG_TYPE"
	ErrCodeConfigUnreadable  ErrorCode = "CONFIG_UNREADABLE"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches any StandardError carrying the same code, so the sentinels below
// work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrMissingField        = &StandardError{Code: ErrCodeMissingField}
	ErrMalformedRecord     = &StandardError{Code: ErrCodeMalformedRecord}
	ErrTransport           = &StandardError{Code: ErrCodeTransport}
	ErrBadStatus           = &StandardError{Code: ErrCodeBadStatus}
	ErrUnparseableResponse = &StandardError{Code: ErrCodeUnparseableResponse}
	ErrShortResponse       = &StandardError{Code: ErrCodeShortResponse}
	ErrSinkWriteFailed     = &StandardError{Code: ErrCodeSinkWriteFailed}
	ErrReportWriteFailed   = &StandardError{Code: ErrCodeReportWriteFailed}
	ErrPublishFailed       = &StandardError{Code: ErrCodePublishFailed}
	ErrConfigMissingKey    = &StandardError{Code: ErrCodeConfigMissingKey}
	ErrConfigWrongType     = &StandardError{Code: ErrCodeConfigWrongType}
	ErrConfigUnreadable    = &StandardError{Code: ErrCodeConfigUnreadable}
	ErrInvalidState        = &StandardError{Code: ErrCodeInvalidState}
)

// ==========================
// 2. Error Constructors
// ==========================

// NewMissingFieldError reports a row that is too short to hold a required field.
func NewMissingFieldError(index, fields int) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingField,
		Message:   "Required field missing from record",
		Details:   fmt.Sprintf("index: %d, fields: %d", index, fields),
		Retryable: false,
		Metadata:  map[string]interface{}{"index": index, "fields": fields},
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedRecordError reports a record the CSV reader could not parse.
func NewMalformedRecordError(row int64, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedRecord,
		Message:   "Malformed input record",
		Details:   fmt.Sprintf("row: %d, error: %s", row, err.Error()),
		Retryable: false,
		Metadata:  map[string]interface{}{"row": row},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewTransportError reports a failed or timed-out call to the matching service.
func NewTransportError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransport,
		Message:   "Matching service request failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewBadStatusError reports a non-success HTTP status from the matching service.
func NewBadStatusError(status int, body string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBadStatus,
		Message:   "Matching service returned non-success status",
		Details:   fmt.Sprintf("status: %d, body: %s", status, body),
		Retryable: status >= 500,
		Metadata:  map[string]interface{}{"status": status},
		Timestamp: time.Now().UTC(),
	}
}

// NewUnparseableResponseError reports a response body that is not a valid match envelope.
func NewUnparseableResponseError(details string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnparseableResponse,
		Message:   "Matching service response could not be decoded",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewShortResponseError reports fewer results than messages sent.
func NewShortResponseError(requested, returned int) *StandardError {
	return &StandardError{
		Code:      ErrCodeShortResponse,
		Message:   "Matching service returned fewer results than requested",
		Details:   fmt.Sprintf("requested: %d, returned: %d", requested, returned),
		Retryable: false,
		Metadata:  map[string]interface{}{"requested": requested, "returned": returned},
		Timestamp: time.Now().UTC(),
	}
}

// NewSinkWriteError reports a failed write to the residual output.
func NewSinkWriteError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSinkWriteFailed,
		Message:   "Residual output write failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewReportWriteError reports a failed write of the stats report.
func NewReportWriteError(path string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeReportWriteFailed,
		Message:   "Stats report write failed",
		Details:   fmt.Sprintf("path: %s, error: %s", path, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewPublishFailedError reports a failed run-end publication to an external store.
func NewPublishFailedError(target string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePublishFailed,
		Message:   fmt.Sprintf("Publishing to '%s' failed", target),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"target": target},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewConfigMissingKeyError reports a required configuration key that is absent.
func NewConfigMissingKeyError(key string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigMissingKey,
		Message:   "Required configuration key missing",
		Details:   fmt.Sprintf("key: %s", key),
		Retryable: false,
		Metadata:  map[string]interface{}{"key": key},
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigWrongTypeError reports a configuration value that has the wrong type or range.
func NewConfigWrongTypeError(key, want string, err error) *StandardError {
	details := fmt.Sprintf("key: %s, want: %s", key, want)
	if err != nil {
		details += ", error: " + err.Error()
	}
	return &StandardError{
		Code:      ErrCodeConfigWrongType,
		Message:   "Configuration value has wrong type",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"key": key},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewConfigUnreadableError reports a configuration file that cannot be read or parsed.
func NewConfigUnreadableError(path string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigUnreadable,
		Message:   "Configuration file could not be read",
		Details:   fmt.Sprintf("path: %s, error: %s", path, err.Error()),
		Retryable: false,
		Metadata:  map[string]interface{}{"path": path},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewInvalidStateError reports an operation attempted in the wrong lifecycle state.
func NewInvalidStateError(op, state string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidState,
		Message:   fmt.Sprintf("Operation '%s' not allowed", op),
		Details:   fmt.Sprintf("state: %s", state),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// CodeOf returns the code of the first StandardError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "DECODE_"):
		return "DECODE"
	case strings.HasPrefix(codeStr, "CLASSIFY_"):
		return "CLASSIFICATION"
	case strings.HasPrefix(codeStr, "SINK_"), strings.HasPrefix(codeStr, "REPORT_"):
		return "OUTPUT"
	case strings.HasPrefix(codeStr, "CONFIG_"):
		return "CONFIG"
	case strings.HasPrefix(codeStr, "PUBLISH_"):
		return "PUBLISH"
	default:
		return "OTHER"
	}
}

// IsRetryable reports whether err carries a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// Process exit statuses.
const (
	ExitOK        = 0
	ExitRunFailed = 1
	ExitConfig    = 2
)

// ExitCode maps a run outcome to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if GetErrorCategory(CodeOf(err)) == "CONFIG" {
		return ExitConfig
	}
	return ExitRunFailed
}
