package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, err error, _ time.Duration) { retried = append(retried, attempt) }

	attempts, err := Do(context.Background(), p, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoExhausts(t *testing.T) {
	boom := errors.New("boom")
	attempts, err := Do(context.Background(), fastPolicy(2), func(context.Context, int) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	boom := errors.New("bad request")
	attempts, err := Do(context.Background(), fastPolicy(5), func(context.Context, int) error { return Permanent(boom) })
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, attempts)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	_, err := Do(ctx, p, func(context.Context, int) error {
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := time.Duration(rapid.IntRange(1, 1000).Draw(t, "initial")) * time.Millisecond
		maxDelay := initial * time.Duration(rapid.IntRange(1, 50).Draw(t, "factor"))
		attempt := rapid.IntRange(1, 20).Draw(t, "attempt")
		p := Policy{InitialDelay: initial, MaxDelay: maxDelay, Multiplier: 2, Jitter: rapid.Bool().Draw(t, "jitter")}

		d := Delay(p, attempt)
		if d < initial {
			t.Fatalf("delay %s below initial %s", d, initial)
		}
		if upper := time.Duration(float64(maxDelay) * 1.25); d > upper {
			t.Fatalf("delay %s above jittered cap %s", d, upper)
		}
	})
}
