package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestPolicyRetriesUntilSuccess(t *testing.T) {
	p := &Policy{Attempts: 3, Delay: time.Millisecond, Retryable: func(err error) bool {
		return errors.Is(err, errFlaky)
	}}
	calls := 0
	err := p.Do(context.Background(), "test", func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicyStopsAfterAttempts(t *testing.T) {
	p := &Policy{Attempts: 3, Delay: time.Millisecond, Retryable: func(err error) bool { return true }}
	calls := 0
	err := p.Do(context.Background(), "test", func(_ context.Context) error {
		calls++
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestPolicyNonRetryable(t *testing.T) {
	p := &Policy{Attempts: 5, Delay: time.Millisecond, Retryable: func(err error) bool { return false }}
	calls := 0
	err := p.Do(context.Background(), "test", func(_ context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}
