// internal/common/errors/handler.go
package errors

// ErrorHandler logs fatal run errors in a uniform shape and maps them to exit codes.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleRunError logs err with its code and category and returns the process exit status.
func (h *ErrorHandler) HandleRunError(runID string, err error) int {
	if err == nil {
		return ExitOK
	}

	code := CodeOf(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}

	fields := map[string]interface{}{
		"runId":         runID,
		"errorCode":     string(code),
		"errorCategory": GetErrorCategory(code),
		"retryable":     IsRetryable(err),
		"error":         err.Error(),
	}
	h.logger.Error("run failed", fields)

	return ExitCode(err)
}
