package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// InternalError is implemented by package-local error types that know how to
// convert themselves into an *Error
type InternalError interface {
	error
	Transform() *Error
}

// IsGharpError reports whether err is, or wraps, an *Error
func IsGharpError(err error) bool {
	var gErr *Error
	return stderrors.As(err, &gErr)
}

func GetContext(err error) map[string]string {
	var gErr *Error
	if stderrors.As(err, &gErr) {
		return gErr.Context
	}
	return nil
}

// GetCode returns the code of the outermost *Error in the chain, or ""
func GetCode(err error) string {
	var gErr *Error
	if stderrors.As(err, &gErr) {
		return gErr.Code.String()
	}
	return ""
}

// HasCode walks the whole chain looking for code
func HasCode(err error, code Code) bool {
	for err != nil {
		if gErr, ok := err.(*Error); ok && gErr.Code.Equals(code) {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// FormatError renders an error for multi-line logs
func FormatError(err error) string {
	var gErr *Error
	if !stderrors.As(err, &gErr) {
		return err.Error()
	}

	parts := []string{
		fmt.Sprintf("Code: %s", gErr.Code),
		fmt.Sprintf("Message: %s", gErr.Message),
	}

	if len(gErr.Context) > 0 {
		keys := make([]string, 0, len(gErr.Context))
		for k := range gErr.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts = append(parts, "Context:")
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, gErr.Context[k]))
		}
	}

	if gErr.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", gErr.Cause))
	}

	return strings.Join(parts, "\n")
}

// AsError converts any error into an *Error.
//
//	if err := store.Exec(ctx, q); err != nil {
//	    return errors.AsError(err).AddContext("operation", "exec")
//	}
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	if ie, ok := err.(InternalError); ok {
		return ie.Transform()
	}

	var gErr *Error
	if stderrors.As(err, &gErr) {
		return gErr
	}

	return New(CommonInternal, err.Error(), err)
}

// Re-exports so callers need a single errors import
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
