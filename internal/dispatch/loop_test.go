package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	loop := NewLoop(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	loop.Sync()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestPostAfterStopIsNoop(t *testing.T) {
	loop := NewLoop(4)
	loop.Stop()
	loop.Stop() // idempotent
	ran := false
	loop.Post(func() { ran = true })
	loop.Sync()
	assert.False(t, ran)
}
