package semaphore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseFIFO(t *testing.T) {
	s := New(1)
	ctx := context.Background()

	g1, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), s.Available())

	order := make(chan int, 2)
	go func() {
		g2, err := s.Acquire(ctx)
		require.NoError(t, err)
		order <- 2
		g2.Release()
	}()
	go func() {
		time.Sleep(10 * time.Millisecond)
		g3, err := s.Acquire(ctx)
		require.NoError(t, err)
		order <- 3
		g3.Release()
	}()

	time.Sleep(30 * time.Millisecond)
	g1.Release()

	first := <-order
	second := <-order
	assert.Equal(t, 2, first)
	assert.Equal(t, 3, second)
}

func TestAcquireCancelled(t *testing.T) {
	s := New(1)
	ctx := context.Background()
	g1, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer g1.Release()

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Acquire(cctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrainRejectsWaiters(t *testing.T) {
	s := New(1)
	ctx := context.Background()
	g1, err := s.Acquire(ctx)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	s.Drain()
	assert.ErrorIs(t, <-errCh, ErrDrained)
	assert.Equal(t, uint32(1), s.Available())
	_ = g1
}

func TestReleaseTwicePanics(t *testing.T) {
	s := New(1)
	g, err := s.Acquire(context.Background())
	require.NoError(t, err)
	g.Release()
	assert.Panics(t, func() { g.Release() })
}
