// Package errors defines the structured error taxonomy shared by the intake
// pipeline, the dispatcher and the configuration loader.
//
// Every error carries a Type that maps onto one failure class of the
// pipeline, so callers can decide between dropping, retrying and degrading
// a document without matching on strings.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType is the failure class of a DocError.
type ErrorType string

const (
	// ErrorTypeValidation marks business-data problems: not a PDF, an
	// unroutable filename. Never a system fault.
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSecurity   ErrorType = "security"
	// ErrorTypeIO marks filesystem failures that survived local retries.
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeEnrichment failures degrade a notification, they never abort it.
	ErrorTypeEnrichment ErrorType = "enrichment"
	ErrorTypeDelivery   ErrorType = "delivery"
	ErrorTypeResource   ErrorType = "resource"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// recoverable lists the classes after which the service keeps going with
// the next document.
var recoverable = map[ErrorType]bool{
	ErrorTypeValidation: true,
	ErrorTypeIO:         true,
	ErrorTypeEnrichment: true,
	ErrorTypeResource:   true,
}

// Common error codes.
const (
	ErrCodeInvalidPath       = "ERR_INVALID_PATH"
	ErrCodePathTraversal     = "ERR_PATH_TRAVERSAL"
	ErrCodeCopyFailed        = "ERR_COPY_FAILED"
	ErrCodeRemoveFailed      = "ERR_REMOVE_FAILED"
	ErrCodeWorkspaceFailed   = "ERR_WORKSPACE_FAILED"
	ErrCodeInvalidPDF        = "ERR_INVALID_PDF"
	ErrCodeNoTemplate        = "ERR_NO_TEMPLATE"
	ErrCodeAmbiguousTemplate = "ERR_AMBIGUOUS_TEMPLATE"
	ErrCodeSidecarMissing    = "ERR_SIDECAR_MISSING"
	ErrCodeSidecarParse      = "ERR_SIDECAR_PARSE"
	ErrCodeNameUnresolved    = "ERR_NAME_UNRESOLVED"
	ErrCodeSendFailed        = "ERR_SEND_FAILED"
	ErrCodeAttachFailed      = "ERR_ATTACH_FAILED"
	ErrCodeQueueFull         = "ERR_QUEUE_FULL"
	ErrCodeQueueClosed       = "ERR_QUEUE_CLOSED"
	ErrCodeRateLimited       = "ERR_RATE_LIMITED"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeInternalError     = "ERR_INTERNAL"
	ErrCodeValidationFailed  = "ERR_VALIDATION_FAILED"
)

// DocError is the error type returned across package boundaries.
// FilePath, when set, is already masked.
type DocError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	FilePath    string
	Recoverable bool
}

func newError(t ErrorType, code, message string, cause error) *DocError {
	return &DocError{
		Type:        t,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: recoverable[t],
	}
}

// Error renders "[CODE] component:NAME FILE message: cause", omitting the
// parts that are unset.
func (e *DocError) Error() string {
	var b strings.Builder
	write := func(s string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}

	if e.Code != "" {
		write("[" + e.Code + "]")
	}
	if e.Component != "" {
		write("component:" + e.Component)
	}
	if e.FilePath != "" {
		write(e.FilePath)
	}
	write(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *DocError) Unwrap() error {
	return e.Cause
}

// Is matches another DocError with the same type and code.
func (e *DocError) Is(target error) bool {
	t, ok := target.(*DocError)
	return ok && e.Type == t.Type && e.Code == t.Code
}

// WithContext attaches a key/value pair and returns e.
func (e *DocError) WithContext(key string, value interface{}) *DocError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithFile records the masked file the error refers to.
func (e *DocError) WithFile(masked string) *DocError {
	e.FilePath = masked
	return e
}

func (e *DocError) WithComponent(component string) *DocError {
	e.Component = component
	return e
}

func NewValidationError(code, message string) *DocError {
	return newError(ErrorTypeValidation, code, message, nil)
}

func NewSecurityError(code, message string) *DocError {
	return newError(ErrorTypeSecurity, code, message, nil)
}

func NewIOError(code, message string, cause error) *DocError {
	return newError(ErrorTypeIO, code, message, cause)
}

func NewEnrichmentError(code, message string, cause error) *DocError {
	return newError(ErrorTypeEnrichment, code, message, cause)
}

// NewDeliveryError is returned once the dispatcher has used up its attempts.
func NewDeliveryError(code, message string, cause error) *DocError {
	return newError(ErrorTypeDelivery, code, message, cause)
}

func NewResourceError(code, message string) *DocError {
	return newError(ErrorTypeResource, code, message, nil)
}

func NewConfigError(code, message string) *DocError {
	return newError(ErrorTypeConfig, code, message, nil)
}

func NewInternalError(code, message string, cause error) *DocError {
	return newError(ErrorTypeInternal, code, message, cause)
}

// ErrPathTraversal is returned when an event path escapes the watched directory.
func ErrPathTraversal(path string) *DocError {
	return NewSecurityError(ErrCodePathTraversal, "path escapes watched directory: "+path)
}

// ErrInvalidPDF is returned for a staged file that is not a usable PDF.
func ErrInvalidPDF(reason string, cause error) *DocError {
	return newError(ErrorTypeValidation, ErrCodeInvalidPDF, "not a valid PDF: "+reason, cause)
}

// ErrQueueFull is returned when intake is saturated.
func ErrQueueFull(capacity int) *DocError {
	return NewResourceError(ErrCodeQueueFull, fmt.Sprintf("intake queue is full (capacity %d)", capacity))
}

// IsRecoverable reports whether err is a DocError marked recoverable.
// Foreign errors are not.
func IsRecoverable(err error) bool {
	var de *DocError
	return errors.As(err, &de) && de.Recoverable
}

// IsType reports whether err, or anything it wraps, is a DocError of type t.
func IsType(err error, t ErrorType) bool {
	var de *DocError
	return errors.As(err, &de) && de.Type == t
}

func IsSecurityError(err error) bool   { return IsType(err, ErrorTypeSecurity) }
func IsValidationError(err error) bool { return IsType(err, ErrorTypeValidation) }
func IsDeliveryError(err error) bool   { return IsType(err, ErrorTypeDelivery) }

// TypeOf returns the ErrorType of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var de *DocError
	if errors.As(err, &de) {
		return de.Type
	}
	return ErrorTypeInternal
}

// ValidationError is a problem with one configuration field.
type ValidationError interface {
	error
	Field() string
	Value() interface{}
	Suggestions() []string
}

// FieldError is the ValidationError produced by AddField.
type FieldError struct {
	Name    string
	Got     interface{}
	Message string
	Hints   []string
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", f.Name, f.Message)
}

func (f *FieldError) Field() string         { return f.Name }
func (f *FieldError) Value() interface{}    { return f.Got }
func (f *FieldError) Suggestions() []string { return f.Hints }

// ValidationErrorCollection accumulates field problems so a config file
// reports all of them at once.
type ValidationErrorCollection struct {
	Errors []ValidationError
}

func (vec *ValidationErrorCollection) Error() string {
	switch len(vec.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return vec.Errors[0].Error()
	default:
		return fmt.Sprintf("validation failed with %d errors", len(vec.Errors))
	}
}

func (vec *ValidationErrorCollection) Add(err ValidationError) {
	vec.Errors = append(vec.Errors, err)
}

// AddField records a problem with field. Values that may carry addresses
// must be masked by the caller.
func (vec *ValidationErrorCollection) AddField(field string, value interface{}, message string, suggestions ...string) {
	vec.Add(&FieldError{Name: field, Got: value, Message: message, Hints: suggestions})
}

func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// ToDocError folds the collection into one config error, or nil when empty.
// Each field's value and suggestions land in Context under the field name.
func (vec *ValidationErrorCollection) ToDocError() *DocError {
	if !vec.HasErrors() {
		return nil
	}

	messages := make([]string, 0, len(vec.Errors))
	de := NewConfigError(ErrCodeConfigInvalid, "")
	for _, err := range vec.Errors {
		messages = append(messages, err.Error())
		de.WithContext(err.Field(), map[string]interface{}{
			"value":       err.Value(),
			"suggestions": err.Suggestions(),
		})
	}
	de.Message = strings.Join(messages, "; ")

	return de
}
