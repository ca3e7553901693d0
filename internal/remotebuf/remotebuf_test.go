package remotebuf

import (
	"context"
	"testing"
	"time"

	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAndCredit(t *testing.T) {
	a := New(verbs.RemoteMR{Addr: 1000, Length: 64, RKey: 5})
	ctx := context.Background()

	off, err := a.Reserve(ctx, 64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, uint64(1000), a.RemoteAddr(off))
	assert.Equal(t, uint32(5), a.RKey())

	done := make(chan error, 1)
	go func() {
		_, err := a.Reserve(ctx, 10)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("reserve should block until credited")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Credit(64))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reserve did not unblock after credit")
	}
}
