package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := &Error{Type: ErrorTypeServerError, Code: 503, Message: "media host", Err: errors.New("eof")}
	assert.Equal(t, "server_error error (code 503): media host: eof", err.Error())

	assert.Equal(t, "snapshot_load error: bad version", New(ErrorTypeSnapshotLoad, "bad version").Error())
}

func TestIsAndTypeOfThroughWrapping(t *testing.T) {
	base := Wrap(ErrorTypeDuplicate, errors.New("E11000"), "post 42")
	wrapped := fmt.Errorf("sink: %w", base)

	assert.True(t, Is(wrapped, ErrorTypeDuplicate))
	assert.False(t, Is(wrapped, ErrorTypeNetwork))
	assert.Equal(t, ErrorTypeDuplicate, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
	assert.ErrorContains(t, errors.Unwrap(base), "E11000")

	nested := Wrap(ErrorTypeFetch, fmt.Errorf("gave up: %w", errors.Join(errors.New("x"), FromStatus(404, "gone"))), "post p1")
	assert.True(t, Is(nested, ErrorTypeFetch))
	assert.True(t, Is(nested, ErrorTypeNotFound))
	assert.Equal(t, ErrorTypeFetch, TypeOf(nested))
}

func TestIsRetryableStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{0, true},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{416, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableStatusCode(tt.code))
		})
	}
}

func TestFromStatus(t *testing.T) {
	assert.Equal(t, ErrorTypeAuth, FromStatus(403, "").Type)
	assert.Equal(t, ErrorTypeNotFound, FromStatus(404, "").Type)
	assert.Equal(t, ErrorTypeRateLimit, FromStatus(429, "").Type)
	assert.Equal(t, ErrorTypeServerError, FromStatus(502, "").Type)
	assert.Equal(t, ErrorTypeUnknown, FromStatus(418, "").Type)
	assert.Equal(t, 502, FromStatus(502, "").Code)
}

func TestFatalTypes(t *testing.T) {
	for _, typ := range []ErrorType{ErrorTypeSnapshotLoad, ErrorTypeSnapshotWrite, ErrorTypeInvalidInput} {
		assert.True(t, IsFatal(typ), typ)
	}
	for _, typ := range []ErrorType{ErrorTypeFetch, ErrorTypeDownload, ErrorTypeDuplicate, ErrorTypePageSource} {
		assert.False(t, IsFatal(typ), typ)
	}
	assert.True(t, IsRetryable(ErrorTypeRateLimit))
	assert.False(t, IsRetryable(ErrorTypeAuth))
}
