package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Session not found")
		assert.Equal(t, "NOT_FOUND: Session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(ErrCodeTransport, "publish failed", cause)
		assert.Contains(t, err.Error(), "TRANSPORT_ERROR")
		assert.Contains(t, err.Error(), "publish failed")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "bunkerUrl", "reason": "invalid scheme"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Decode", func() *AppError { return Decode("bad mac", nil) }, ErrCodeDecode},
		{"Transport", func() *AppError { return Transport("no relays", nil) }, ErrCodeTransport},
		{"Timeout", func() *AppError { return Timeout("sign_event") }, ErrCodeTimeout},
		{"RemoteSigner", func() *AppError { return RemoteSigner("user denied") }, ErrCodeRemoteSigner},
		{"Cancelled", func() *AppError { return Cancelled("destroyed") }, ErrCodeCancelled},
		{"NotConnected", func() *AppError { return NotConnected("s1") }, ErrCodeNotConnected},
		{"StorageFault", func() *AppError { return StorageFault("quota", nil) }, ErrCodeStorageFault},
		{"InvalidPairing", func() *AppError { return InvalidPairing("missing relay") }, ErrCodeInvalidPairing},
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"NotFound", func() *AppError { return NotFound("Session") }, ErrCodeNotFound},
		{"Conflict", func() *AppError { return Conflict("test") }, ErrCodeConflict},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("kind", "negative") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("relays") }, ErrCodeMissingRequired},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestIs(t *testing.T) {
	t.Run("matches sentinel by code", func(t *testing.T) {
		assert.True(t, errors.Is(Timeout("connect"), ErrTimeout))
		assert.True(t, errors.Is(RemoteSigner("denied"), ErrRemoteSigner))
		assert.False(t, errors.Is(Timeout("connect"), ErrCancelled))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("connect session: %w", Cancelled("destroyed"))
		assert.True(t, errors.Is(err, ErrCancelled))
	})

	t.Run("does not match plain errors", func(t *testing.T) {
		assert.False(t, errors.Is(errors.New("timeout"), ErrTimeout))
	})
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		err := New(ErrCodeNotFound, "test")
		assert.True(t, IsAppError(err))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.False(t, IsAppError(err))
	})

	t.Run("returns true for wrapped AppError", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(ErrCodeNotFound, "test"))
		assert.True(t, IsAppError(err))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := New(ErrCodeNotFound, "Session not found")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		extracted, ok := AsAppError(err)
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := New(ErrCodeNotFound, "test")
		assert.Equal(t, ErrCodeNotFound, GetCode(err))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, ErrCodeInternal, GetCode(err))
	})
}

func TestMessages(t *testing.T) {
	t.Run("NotFound formats resource name", func(t *testing.T) {
		assert.Equal(t, "Session not found", NotFound("Session").Message)
	})

	t.Run("MissingRequired formats field name", func(t *testing.T) {
		assert.Equal(t, "relays is required", MissingRequired("relays").Message)
	})

	t.Run("RemoteSigner keeps reason verbatim", func(t *testing.T) {
		assert.Equal(t, "user rejected", RemoteSigner("user rejected").Message)
	})
}
