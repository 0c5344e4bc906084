package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := NewWithSettings("test", testSettings())
	boom := errors.New("broker unavailable")

	for i := 0; i < 2; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "при открытом breaker функция не вызывается")
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	notFailure := errors.New("business error")
	b := NewWithSettings("test", testSettings(), WithFailurePredicate(func(err error) bool {
		return !errors.Is(err, notFailure)
	}))

	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return notFailure })
		assert.ErrorIs(t, err, notFailure)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_Success(t *testing.T) {
	b := New("ok")

	err := b.Execute(context.Background(), func(context.Context) error { return nil })

	assert.NoError(t, err)
	assert.Equal(t, "ok", b.Name())
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
