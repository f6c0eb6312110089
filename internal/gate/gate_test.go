package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAwaitReturnsOnceCheckIsTrue(t *testing.T) {
	calls := 0
	check := func() (bool, error) {
		calls++
		return calls >= 3, nil
	}
	err := Await(context.Background(), 5*time.Millisecond, check)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestAwaitPropagatesCheckError(t *testing.T) {
	boom := assertErr("boom")
	err := Await(context.Background(), time.Millisecond, func() (bool, error) {
		return false, boom
	})
	assert.Equal(t, boom, err)
}

func TestAwaitRespectsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := Await(ctx, 50*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
