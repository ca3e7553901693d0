package rdmaconn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

// TestDialListenHandshake exercises Dial/Listen end to end over a real TCP
// socket, unlike conn_test.go's NewSimPair which short-circuits straight to
// an in-process paired QP. It confirms the RTR/RTS handshake (and the
// Endpoint/RemoteMR exchange it drives) completes correctly across two
// independent Sim providers.
//
// It does not exercise a successful Send: verbs.Sim only routes writes
// between QPs explicitly linked with verbs.Pair in the same process, which
// two independently-dialed Sim instances never are, so the test checks that
// Send fails. A hardware-backed Provider would not have this limitation.
func TestDialListenHandshake(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen("127.0.0.1:0", verbs.NewSim(1), nil)
	require.NoError(t, err)
	defer ln.Close()

	type acceptResult struct {
		conn *Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		c, err := ln.Accept(ctx)
		acceptCh <- acceptResult{c, err}
	}()

	client, err := Dial(ctx, ln.Addr().String(), verbs.NewSim(2), nil)
	require.NoError(t, err)
	defer client.Close()

	accepted := <-acceptCh
	require.NoError(t, accepted.err)
	defer accepted.conn.Close()

	err = client.Send(ctx, []byte("x"))
	require.Error(t, err, "unpaired sim providers across processes cannot route a write")
}
