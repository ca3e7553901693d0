package ring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocReleaseFIFO(t *testing.T) {
	r := New(0, 100)
	ctx := context.Background()

	off1, err := r.Alloc(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off1)

	off2, err := r.Alloc(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), off2)

	assert.Equal(t, uint64(80), r.Outstanding())

	r.Release()
	assert.Equal(t, uint64(40), r.Outstanding())
	r.Release()
	assert.Equal(t, uint64(0), r.Outstanding())
}

func TestAllocWrapsAtRightEdge(t *testing.T) {
	r := New(0, 100)
	ctx := context.Background()

	off1, err := r.Alloc(ctx, 70)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off1)

	// 70 bytes used, only 30 left before the edge; a 40-byte request
	// cannot fit before Right and must wrap, abandoning the 30-byte tail.
	r.Release() // free the first allocation so the wrap has room
	off2, err := r.Alloc(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off2)
}

func TestAllocBlocksUntilRelease(t *testing.T) {
	r := New(0, 50)
	ctx := context.Background()

	_, err := r.Alloc(ctx, 50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	allocated := make(chan uint64, 1)
	go func() {
		defer wg.Done()
		off, err := r.Alloc(ctx, 10)
		require.NoError(t, err)
		allocated <- off
	}()

	select {
	case <-allocated:
		t.Fatal("alloc should have blocked with no free space")
	case <-time.After(50 * time.Millisecond):
	}

	r.Release()

	select {
	case <-allocated:
	case <-time.After(time.Second):
		t.Fatal("alloc did not unblock after release")
	}
	wg.Wait()
}

func TestAllocContextCancel(t *testing.T) {
	r := New(0, 10)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := r.Alloc(ctx, 10)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := r.Alloc(ctx, 1)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("alloc did not observe context cancellation")
	}
}

func TestReleaseWithoutAllocPanics(t *testing.T) {
	r := New(0, 10)
	assert.Panics(t, func() { r.Release() })
}

func TestCloseUnblocksWaiters(t *testing.T) {
	r := New(0, 10)
	ctx := context.Background()
	_, err := r.Alloc(ctx, 10)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := r.Alloc(ctx, 1)
		done <- err
	}()

	r.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("alloc did not observe close")
	}
}
