package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testCode  = MustNewCode("test.code")
	testCode2 = MustNewCode("test.code2")
)

type mockInternalError struct {
	message string
}

func (m *mockInternalError) Error() string { return m.message }

func (m *mockInternalError) Transform() *Error {
	return New(CommonInternal, m.message, nil).AddContext("mock", "true")
}

func TestNew(t *testing.T) {
	cause := stderrors.New("disk gone")
	err := New(testCode, "open failed", cause)

	assert.Equal(t, "open failed", err.Message)
	assert.Equal(t, "test.code", err.Code.String())
	assert.Equal(t, cause, err.Cause)
	assert.False(t, err.Timestamp.IsZero())
	assert.NotEmpty(t, err.Stack)
	assert.Equal(t, "open failed: disk gone", err.Error())
}

func TestNewf(t *testing.T) {
	err := Newf(CommonValidation, "limit %d out of range", -1)
	assert.Equal(t, "limit -1 out of range", err.Error())
	assert.Nil(t, err.Cause)
}

func TestWrap(t *testing.T) {
	cause := stderrors.New("original")

	err := Wrap(testCode, cause, "wrapped")
	assert.Equal(t, "wrapped: original", err.Error())
	assert.Same(t, cause, err.Unwrap())

	errf := Wrapf(testCode, cause, "wrapped %s", "again")
	assert.Equal(t, "wrapped again", errf.Message)
}

func TestWithAdditional(t *testing.T) {
	t.Run("GharpError", func(t *testing.T) {
		base := New(testCode, "base", nil).AddContext("table", "t1")
		err := WithAdditional(base, "first %d", 1)
		err = WithAdditional(err, "second")

		assert.Equal(t, "t1", err.Context["table"])
		assert.Equal(t, "first 1", err.Context["additional_0"])
		assert.Equal(t, "second", err.Context["additional_1"])
		_, leaked := base.Context["additional_0"]
		assert.False(t, leaked)
	})

	t.Run("StandardError", func(t *testing.T) {
		err := WithAdditional(stderrors.New("plain"), "note")
		assert.Equal(t, CommonInternal.String(), err.Code.String())
		assert.Equal(t, "note", err.Context["additional_0"])
	})
}

func TestMethodChaining(t *testing.T) {
	cause := stderrors.New("cause")
	err := New(testCode, "chained", nil).
		AddContext("k1", "v1").
		AddContext("k2", "v2").
		WithCause(cause)

	assert.Len(t, err.Context, 2)
	assert.Equal(t, cause, err.Cause)
}

func TestIsAndAs(t *testing.T) {
	inner := New(testCode, "inner", nil)
	outer := fmt.Errorf("outer: %w", inner)

	assert.True(t, Is(outer, New(testCode, "other message", nil)))
	assert.False(t, Is(outer, New(testCode2, "inner", nil)))

	var got *Error
	require.True(t, As(outer, &got))
	assert.Equal(t, "inner", got.Message)
}

func TestHelpers(t *testing.T) {
	inner := New(testCode2, "inner", nil)
	err := New(testCode, "outer", inner).AddContext("file", "a.csv")

	assert.True(t, IsGharpError(err))
	assert.False(t, IsGharpError(stderrors.New("x")))
	assert.Equal(t, "test.code", GetCode(err))
	assert.Equal(t, "", GetCode(stderrors.New("x")))
	assert.Equal(t, "a.csv", GetContext(err)["file"])
	assert.True(t, HasCode(err, testCode2))
	assert.False(t, HasCode(err, CommonNotFound))

	formatted := FormatError(err)
	assert.True(t, strings.HasPrefix(formatted, "Code: test.code"))
	assert.Contains(t, formatted, "  file: a.csv")
	assert.Contains(t, formatted, "Cause: inner")
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	mock := AsError(&mockInternalError{message: "mock"})
	assert.Equal(t, "true", mock.Context["mock"])

	existing := New(testCode, "existing", nil)
	assert.Same(t, existing, AsError(existing))

	std := AsError(stderrors.New("standard"))
	assert.Equal(t, CommonInternal.String(), std.Code.String())
	assert.Equal(t, "standard", std.Message)
}
