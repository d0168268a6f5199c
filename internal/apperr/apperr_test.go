package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(TooManyRequests, "busy")
	assert.Equal(t, TooManyRequests, KindOf(err))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.Equal(t, TooManyRequests, KindOf(wrapped))

	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, Internal, KindOf(nil))
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := fs.ErrNotExist
	err := Wrap(Internal, "read quota file", cause)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestQuotaExhaustedDetails(t *testing.T) {
	reset := time.Date(2025, 3, 1, 0, 0, 0, 0, time.FixedZone("UTC+8", 8*3600))
	err := QuotaExhausted(500, 500, reset)

	assert.Equal(t, QuotaExceeded, err.Kind)
	assert.NotNil(t, err.Quota)
	assert.Equal(t, uint32(500), err.Quota.Used)
	assert.True(t, err.Quota.ResetAt.Equal(reset))
}

func TestCodes(t *testing.T) {
	assert.Equal(t, "unauthorized", Unauthorized.Code())
	assert.Equal(t, "quota_exceeded", QuotaExceeded.Code())
	assert.Equal(t, "internal_error", Internal.Code())
	assert.Equal(t, "internal_error", Kind(99).Code())
}
