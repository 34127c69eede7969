package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Check(t *testing.T) {
	c := NewChecker(time.Minute,
		Dependency{Name: "rpc", Check: func(context.Context) error { return nil }},
		Dependency{Name: "jupiter", Check: func(context.Context) error { return errors.New("429") }},
	)
	assert.True(t, c.Healthy(), "no checks yet")

	statuses := c.Check(context.Background())
	require.Len(t, statuses, 2)
	assert.Equal(t, "rpc", statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, "jupiter", statuses[1].Name)
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "429", statuses[1].Error)

	assert.False(t, c.Healthy())
	assert.Equal(t, statuses, c.GetStatuses())
}

func TestChecker_CheckTimeout(t *testing.T) {
	c := NewChecker(time.Minute, Dependency{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	c.timeout = 20 * time.Millisecond

	statuses := c.Check(context.Background())
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Healthy)
	assert.Contains(t, statuses[0].Error, "deadline")
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 10)
	c := NewChecker(10*time.Millisecond, Dependency{Name: "rpc", Check: func(context.Context) error {
		calls <- struct{}{}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-calls
	<-calls
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
