package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil))
	assert.ErrorIs(t, WrapError(context.Canceled), ErrCanceled)
	assert.ErrorIs(t, WrapError(context.DeadlineExceeded), ErrCanceled)

	plain := errors.New("disk full")
	assert.Equal(t, plain, WrapError(plain))
}

func TestIsCanceled(t *testing.T) {
	assert.False(t, IsCanceled(nil))
	assert.True(t, IsCanceled(context.Canceled))
	assert.True(t, IsCanceled(fmt.Errorf("query failed: %w", context.DeadlineExceeded)))
	// Driver errors sometimes carry the text without wrapping the sentinel.
	assert.True(t, IsCanceled(errors.New("connection: context canceled")))
	assert.False(t, IsCanceled(errors.New("disk full")))
}
