package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"time"
)

// Error is the structured error carried across gharp packages
type Error struct {
	Code      Code
	Message   string
	Cause     error
	Context   map[string]string
	Stack     []Frame
	Timestamp time.Time
}

// Frame is a single captured stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New builds an error; the code is always the first argument and cause may be nil
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Stack:     captureStackTrace(),
	}
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

func Wrap(code Code, err error, message string) *Error {
	return New(code, message, err)
}

func Wrapf(code Code, err error, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), err)
}

// WithAdditional attaches a numbered "additional_N" context entry.
// Non-gharp errors are wrapped as CommonInternal first.
func WithAdditional(cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)

	var gErr *Error
	if !stderrors.As(cause, &gErr) {
		return Wrap(CommonInternal, cause, msg).AddContext("additional_0", msg)
	}

	newErr := &Error{
		Code:      gErr.Code,
		Message:   gErr.Message,
		Cause:     gErr.Cause,
		Context:   make(map[string]string, len(gErr.Context)+1),
		Stack:     gErr.Stack,
		Timestamp: gErr.Timestamp,
	}
	for k, v := range gErr.Context {
		newErr.Context[k] = v
	}

	next := 0
	for {
		if _, exists := newErr.Context[fmt.Sprintf("additional_%d", next)]; !exists {
			break
		}
		next++
	}
	newErr.Context[fmt.Sprintf("additional_%d", next)] = msg
	return newErr
}

func (e *Error) AddContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code so errors.Is works against sentinels
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code.Equals(t.Code)
}

func captureStackTrace() []Frame {
	var frames []Frame
	for i := 2; i < 12; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		name := "unknown"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}
		frames = append(frames, Frame{
			Function: name,
			File:     file,
			Line:     line,
		})
	}
	return frames
}
