package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeParse    ErrorType = "parse"
	ErrorTypeProvider ErrorType = "provider"
	ErrorTypeTemplate ErrorType = "template"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeRender   ErrorType = "render"
	ErrorTypeRegistry ErrorType = "registry"
)

// Common error codes.
const (
	ErrCodeUnexpectedChar     = "ERR_UNEXPECTED_CHAR"
	ErrCodeTagMismatch        = "ERR_TAG_MISMATCH"
	ErrCodeUnexpectedEOF      = "ERR_UNEXPECTED_EOF"
	ErrCodeProviderFailed     = "ERR_PROVIDER_FAILED"
	ErrCodeTemplateFailed     = "ERR_TEMPLATE_FAILED"
	ErrCodeComponentNotFound  = "ERR_COMPONENT_NOT_FOUND"
	ErrCodeDuplicateComponent = "ERR_DUPLICATE_COMPONENT"
	ErrCodeInvalidDescriptor  = "ERR_INVALID_DESCRIPTOR"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeRequestFailed      = "ERR_REQUEST_FAILED"
	ErrCodeBadResponse        = "ERR_BAD_RESPONSE"
	ErrCodeInvalidRequest     = "ERR_INVALID_REQUEST"
)

// Error is a structured error type with component and location context.
type Error struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Component string
	FilePath  string
	Line      int
	Column    int
	// Char is the offending character for parse errors, zero otherwise.
	Char rune
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.FilePath != "" || e.Line > 0 {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, strings.TrimPrefix(location, ":"))
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

// Is matches another *Error with the same type and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithLocation adds file location information.
func (e *Error) WithLocation(filePath string, line, column int) *Error {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithComponent adds component context. An existing component is kept so the
// innermost failing component stays named when errors bubble up.
func (e *Error) WithComponent(component string) *Error {
	if e.Component == "" {
		e.Component = component
	}

	return e
}

// NewParseError creates a markup parse error at the given position.
func NewParseError(code, message string, line, column int, char rune) *Error {
	return &Error{
		Type:    ErrorTypeParse,
		Code:    code,
		Message: message,
		Line:    line,
		Column:  column,
		Char:    char,
	}
}

// NewProviderError wraps a data-provider failure with the owning component.
func NewProviderError(component string, cause error) *Error {
	return &Error{
		Type:      ErrorTypeProvider,
		Code:      ErrCodeProviderFailed,
		Message:   "data provider failed",
		Cause:     cause,
		Component: component,
	}
}

// NewTemplateError wraps a template compilation or execution failure.
func NewTemplateError(component string, cause error) *Error {
	return &Error{
		Type:      ErrorTypeTemplate,
		Code:      ErrCodeTemplateFailed,
		Message:   "template failed",
		Cause:     cause,
		Component: component,
	}
}

// NewRegistryError creates a registry load or build error.
func NewRegistryError(code, message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeRegistry,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *Error {
	return &Error{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewNetworkError creates a transport error.
func NewNetworkError(code, message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeNetwork,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewRenderError creates a render request error.
func NewRenderError(code, message string) *Error {
	return &Error{
		Type:    ErrorTypeRender,
		Code:    code,
		Message: message,
	}
}

// ErrComponentNotFound creates a component not found error.
func ErrComponentNotFound(name string) *Error {
	return &Error{
		Type:      ErrorTypeRender,
		Code:      ErrCodeComponentNotFound,
		Message:   "component not found: " + name,
		Component: name,
	}
}

func isType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}

	return false
}

// IsParse checks if an error is a markup parse error.
func IsParse(err error) bool { return isType(err, ErrorTypeParse) }

// IsProvider checks if an error is a data-provider failure.
func IsProvider(err error) bool { return isType(err, ErrorTypeProvider) }

// IsTemplate checks if an error is a template failure.
func IsTemplate(err error) bool { return isType(err, ErrorTypeTemplate) }

// IsNetwork checks if an error is a transport failure.
func IsNetwork(err error) bool { return isType(err, ErrorTypeNetwork) }

// IsNotFound checks if an error reports an unknown component.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeComponentNotFound
	}

	return false
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)

	return e, ok
}
