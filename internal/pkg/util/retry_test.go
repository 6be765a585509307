package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	last := errors.New("still down")
	err := Retry(context.Background(), RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}, "test", func(context.Context) error {
		calls++
		return last
	})
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{Attempts: 5, BaseDelay: time.Hour}, "test", func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

type sampleDTO struct {
	Type string `validate:"required,oneof=a b"`
}

func TestValidateDTO(t *testing.T) {
	assert.NoError(t, ValidateDTO(&sampleDTO{Type: "a"}))
	assert.Error(t, ValidateDTO(&sampleDTO{Type: "c"}))
	assert.Error(t, ValidateDTO(&sampleDTO{}))
}
