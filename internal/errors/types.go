// Package errors defines the structured error types shared by the psbg
// pipeline stages, configuration loading and the dev server.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeSiteMetaInvalid  = "ERR_SITE_META_INVALID"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeInvalidPath      = "ERR_INVALID_PATH"
	ErrCodeRenderFailed     = "ERR_RENDER_FAILED"
	ErrCodeStyleFailed      = "ERR_STYLE_FAILED"
	ErrCodeBundleFailed     = "ERR_BUNDLE_FAILED"
	ErrCodeImageFailed      = "ERR_IMAGE_FAILED"
	ErrCodeSitemapFailed    = "ERR_SITEMAP_FAILED"
	ErrCodeArchiveFailed    = "ERR_ARCHIVE_FAILED"
	ErrCodeStageFailed      = "ERR_STAGE_FAILED"
	ErrCodeServerFailed     = "ERR_SERVER_FAILED"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)

// Error is a structured error type with context.
type Error struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	Stage    string
	FilePath string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Stage != "" {
		parts = append(parts, "stage:"+e.Stage)
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath adds file location information.
func (e *Error) WithPath(filePath string) *Error {
	e.FilePath = filePath

	return e
}

// WithLine adds a line number to the file location.
func (e *Error) WithLine(line int) *Error {
	e.Line = line

	return e
}

// WithStage records the pipeline stage the error belongs to.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage

	return e
}

func newError(t ErrorType, code, message string, cause error) *Error {
	return &Error{Type: t, Code: code, Message: message, Cause: cause}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *Error {
	return newError(ErrorTypeValidation, code, message, nil)
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string, cause error) *Error {
	return newError(ErrorTypeConfig, code, message, cause)
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *Error {
	return newError(ErrorTypeIO, code, message, cause)
}

// NewRenderError creates a template rendering error.
func NewRenderError(code, message string, cause error) *Error {
	return newError(ErrorTypeRender, code, message, cause)
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *Error {
	return newError(ErrorTypeBuild, code, message, cause)
}

// NewNetworkError creates a network error.
func NewNetworkError(code, message string, cause error) *Error {
	return newError(ErrorTypeNetwork, code, message, cause)
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return newError(ErrorTypeInternal, code, message, cause)
}

// FileError wraps an I/O failure on path.
func FileError(operation, path string, cause error) *Error {
	return NewIOError(ErrCodeFileNotFound, operation+" failed", cause).WithPath(path)
}

// HasErrorType reports whether any error in the chain has type t.
func HasErrorType(err error, t ErrorType) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Type == t {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

// HasErrorCode reports whether any error in the chain carries code.
func HasErrorCode(err error, code string) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Code == code {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

// ErrorHandler provides centralized error logging.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err with fields derived from its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var se *StageError
	if errors.As(err, &se) {
		for _, f := range se.Failures {
			h.logger.Error(ctx, f.Err, "Stage failed", "stage", f.Stage, "parent", se.Stage)
		}
		return
	}

	var e *Error
	if !errors.As(err, &e) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch e.Type {
	case ErrorTypeValidation:
		h.logger.Warn(ctx, e, "Validation error occurred", "code", e.Code)
	case ErrorTypeRender, ErrorTypeBuild:
		h.logger.Error(ctx, e, "Build error occurred",
			"type", e.Type,
			"code", e.Code,
			"stage", e.Stage,
			"file", e.FilePath)
	default:
		h.logger.Error(ctx, e, "Error occurred", "type", e.Type, "code", e.Code)
	}
}
