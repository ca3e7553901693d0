package recvbuf

import (
	"testing"

	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverReturnsCorrectSlice(t *testing.T) {
	provider := verbs.NewSim(1)
	buf := make([]byte, 256)
	tr, err := New(provider, buf, 1<<20)
	require.NoError(t, err)

	copy(buf[0:5], "hello")
	msg, err := tr.Deliver(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
}

func TestReleaseBatchesUntilThreshold(t *testing.T) {
	provider := verbs.NewSim(1)
	buf := make([]byte, 256)

	tr, err := New(provider, buf, 20)
	require.NoError(t, err)

	_, err = tr.Deliver(10)
	require.NoError(t, err)
	_, err = tr.Deliver(10)
	require.NoError(t, err)

	require.NoError(t, tr.Release(10))
	assert.Equal(t, uint32(0), tr.PopCredit(), "should not have credit pending below threshold")

	require.NoError(t, tr.Release(10))
	assert.Equal(t, uint32(20), tr.PopCredit())
	assert.Equal(t, uint32(0), tr.PopCredit(), "credit queue should drain to empty")
}

func TestReleaseMismatchErrors(t *testing.T) {
	provider := verbs.NewSim(1)
	buf := make([]byte, 256)
	tr, err := New(provider, buf, 1<<20)
	require.NoError(t, err)

	_, err = tr.Deliver(10)
	require.NoError(t, err)

	err = tr.Release(5)
	assert.Error(t, err)
}

func TestFlushForcesCreditEnqueue(t *testing.T) {
	provider := verbs.NewSim(1)
	buf := make([]byte, 256)

	tr, err := New(provider, buf, 1<<20)
	require.NoError(t, err)

	_, err = tr.Deliver(10)
	require.NoError(t, err)
	require.NoError(t, tr.Release(10))
	assert.Equal(t, uint32(0), tr.PopCredit())

	tr.Flush()
	assert.Equal(t, uint32(10), tr.PopCredit())
}
